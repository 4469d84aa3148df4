package scheduler

import (
	"regexp"
	"strconv"

	"mvdan.cc/xurls/v2"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

var (
	// Word-break hints split long URLs in rendered comments.
	wbrPattern = regexp.MustCompile(`(?i)<wbr\s*/?>`)
	// Backlinks point at replies of the same thread, never at children.
	backlinkPattern = regexp.MustCompile(`(?is)<a\b[^>]*class="[^"]*\bbacklink\b[^"]*"[^>]*>.*?</a>`)
	childPattern    = regexp.MustCompile(`href="/([0-9a-zA-Z]+)/(?:res|thread)/([0-9]+)`)
	urlPattern      = xurls.Relaxed()
)

type childRef struct {
	board    string
	threadID int64
}

func cleanComment(html string) string {
	return backlinkPattern.ReplaceAllString(wbrPattern.ReplaceAllString(html, ""), "")
}

// externalLinks lists the URLs quoted in posts, first occurrence order.
func externalLinks(posts []archiver.Post) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range posts {
		if p.HTMLComment == "" {
			continue
		}
		for _, u := range urlPattern.FindAllString(cleanComment(p.HTMLComment), -1) {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// childThreads returns thread references in posts worth following: not the
// thread itself, not already tracked, and on the same board unless
// cross-board following is on.
func (s *Scheduler) childThreads(posts []archiver.Post, item archiver.DownloadItem) []childRef {
	seen := make(map[int64]struct{})
	var out []childRef
	for _, p := range posts {
		if p.HTMLComment == "" {
			continue
		}
		for _, m := range childPattern.FindAllStringSubmatch(cleanComment(p.HTMLComment), -1) {
			id, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil || id == item.ThreadID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			if m[1] != item.Board && !s.opts.FollowToOtherBoards {
				continue
			}
			seen[id] = struct{}{}
			if s.threads.Has(id) {
				continue
			}
			out = append(out, childRef{board: m[1], threadID: id})
		}
	}
	return out
}
