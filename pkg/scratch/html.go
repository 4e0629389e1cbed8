package scratch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Profile comments, followed studios, and the activity feed have no
// REST endpoint; they are scraped from the site's HTML fragments.

// UserProfileComments scrapes the comment threads on a user's profile
// page. Replies are attached under each top-level comment.
func (c *Client) UserProfileComments(ctx context.Context, username string) ([]Raw, error) {
	var results []Raw
	for page := 1; ; page++ {
		pageURL := fmt.Sprintf("%s/site-api/comments/user/%s/?page=%d", siteBase, url.PathEscape(username), page)
		body, err := c.getText(ctx, pageURL, requestOptions{})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(body) == "" {
			return results, nil
		}
		doc, err := html.Parse(strings.NewReader(body))
		if err != nil {
			return nil, err
		}

		found := 0
		for _, thread := range findAll(doc, byClass("li", "top-level-reply")) {
			comment := parseComment(thread)
			if comment == nil {
				continue
			}
			var replies []Raw
			for _, replyList := range findAll(thread, byClass("ul", "replies")) {
				for _, reply := range findAll(replyList, byClass("div", "comment")) {
					if parsed := parseComment(reply); parsed != nil {
						replies = append(replies, parsed)
					}
				}
			}
			if replies == nil {
				replies = []Raw{}
			}
			comment["replies"] = replies
			results = append(results, comment)
			found++
		}
		if found == 0 {
			return results, nil
		}
	}
}

// parseComment extracts one comment node: id from the data attribute,
// author from the name link, content and timestamp from their divs.
func parseComment(node *html.Node) Raw {
	block := node
	if !hasClass(node, "comment") {
		comments := findAll(node, byClass("div", "comment"))
		if len(comments) == 0 {
			return nil
		}
		block = comments[0]
	}

	comment := Raw{}
	if id := attr(block, "data-comment-id"); id != "" {
		if n, err := strconv.ParseFloat(id, 64); err == nil {
			comment["id"] = n
		}
	}
	if names := findAll(block, byClass("div", "name")); len(names) > 0 {
		if links := findAll(names[0], byTag("a")); len(links) > 0 {
			comment["author"] = Raw{"username": strings.TrimSpace(textContent(links[0]))}
		}
	}
	if contents := findAll(block, byClass("div", "content")); len(contents) > 0 {
		comment["content"] = strings.TrimSpace(textContent(contents[0]))
	}
	if times := findAll(block, byClass("span", "time")); len(times) > 0 {
		if title := attr(times[0], "title"); title != "" {
			comment["datetime_created"] = title
		} else {
			comment["datetime_created"] = strings.TrimSpace(textContent(times[0]))
		}
	}
	if len(comment) == 0 {
		return nil
	}
	return comment
}

// UserFollowedStudios scrapes the studios a user follows from the
// paginated profile grid. Each record carries the studio id and title.
func (c *Client) UserFollowedStudios(ctx context.Context, username string) ([]Raw, error) {
	var results []Raw
	for page := 1; ; page++ {
		pageURL := fmt.Sprintf("%s/users/%s/studios_following/?page=%d", siteBase, url.PathEscape(username), page)
		body, err := c.getText(ctx, pageURL, requestOptions{})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(body) == "" {
			return results, nil
		}
		doc, err := html.Parse(strings.NewReader(body))
		if err != nil {
			return nil, err
		}

		found := 0
		for _, thumb := range findAll(doc, byClass("li", "gallery")) {
			studio := Raw{}
			for _, link := range findAll(thumb, byTag("a")) {
				if id := studioIDFromHref(attr(link, "href")); id != 0 {
					studio["id"] = float64(id)
					break
				}
			}
			if titles := findAll(thumb, byClass("span", "title")); len(titles) > 0 {
				studio["title"] = strings.TrimSpace(textContent(titles[0]))
			}
			if _, ok := studio["id"]; !ok {
				continue
			}
			results = append(results, studio)
			found++
		}
		if found == 0 {
			return results, nil
		}
	}
}

func studioIDFromHref(href string) int64 {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(href, siteBase), "/studios/")
	if !ok {
		return 0
	}
	rest = strings.TrimSuffix(rest, "/")
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// UserActivity scrapes the user's public activity feed. Each record is
// one feed line with its timestamp.
func (c *Client) UserActivity(ctx context.Context, username string) ([]Raw, error) {
	feedURL := fmt.Sprintf("%s/messages/ajax/user-activity/?user=%s&max=100000", siteBase, url.QueryEscape(username))
	body, err := c.getText(ctx, feedURL, requestOptions{})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	var results []Raw
	for _, item := range findAll(doc, byTag("li")) {
		entry := Raw{}
		if times := findAll(item, byClass("span", "time")); len(times) > 0 {
			entry["time"] = strings.TrimSpace(textContent(times[0]))
			times[0].Parent.RemoveChild(times[0])
		}
		var links []Raw
		for _, link := range findAll(item, byTag("a")) {
			href := attr(link, "href")
			if href == "" {
				continue
			}
			links = append(links, Raw{
				"href": href,
				"text": strings.TrimSpace(textContent(link)),
			})
		}
		text := strings.Join(strings.Fields(textContent(item)), " ")
		if text == "" {
			continue
		}
		entry["text"] = text
		if links != nil {
			entry["links"] = links
		}
		results = append(results, entry)
	}
	return results, nil
}

// --- minimal node helpers over x/net/html ---

type nodeMatch func(*html.Node) bool

func byTag(tag string) nodeMatch {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func byClass(tag, class string) nodeMatch {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag && hasClass(n, class)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// findAll collects matching descendants, skipping the subtrees of
// matches so nested structures (reply lists) are handled by the caller.
func findAll(root *html.Node, match nodeMatch) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if match(child) {
				found = append(found, child)
				continue
			}
			walk(child)
		}
	}
	walk(root)
	return found
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
