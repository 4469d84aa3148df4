package fuuka

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/JakeFAU/board-archiver/internal/archiver"
)

// apiThread is the per-thread object of the chan thread endpoint.
type apiThread struct {
	OP    *apiPost           `json:"op"`
	Posts map[string]apiPost `json:"posts"`
}

type apiPost struct {
	Num              flexString `json:"num"`
	Subnum           flexString `json:"subnum"`
	Comment          *string    `json:"comment"`
	CommentProcessed *string    `json:"comment_processed"`
	Locked           flexString `json:"locked"`
	TimestampExpired flexString `json:"timestamp_expired"`
	Media            *apiMedia  `json:"media"`
}

type apiMedia struct {
	MediaLink       *string `json:"media_link"`
	RemoteMediaLink *string `json:"remote_media_link"`
	ThumbLink       *string `json:"thumb_link"`
}

// flexString accepts the API's habit of sending numbers as either strings or
// numbers, and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) int64() int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	return n
}

// snapshot is one decoded response of the thread endpoint.
type snapshot struct {
	raw      map[string]any
	posts    []archiver.Post
	keys     []postKey
	files    []archiver.Attachment
	archived bool
}

// decodeThread parses a thread endpoint body. found is false when the API
// answered with an error object or without the requested thread.
func decodeThread(body []byte, threadID int64) (snap snapshot, found bool, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return snapshot{}, false, fmt.Errorf("decode thread response: %w", err)
	}
	if _, isErr := top["error"]; isErr {
		return snapshot{}, false, nil
	}
	rawThread, ok := top[strconv.FormatInt(threadID, 10)]
	if !ok {
		return snapshot{}, false, nil
	}

	var typed apiThread
	if err := json.Unmarshal(rawThread, &typed); err != nil {
		return snapshot{}, false, fmt.Errorf("decode thread %d: %w", threadID, err)
	}
	if typed.OP == nil {
		return snapshot{}, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return snapshot{}, false, fmt.Errorf("decode thread snapshot: %w", err)
	}

	ordered := make([]apiPost, 0, len(typed.Posts)+1)
	ordered = append(ordered, *typed.OP)
	replies := make([]apiPost, 0, len(typed.Posts))
	for _, p := range typed.Posts {
		replies = append(replies, p)
	}
	sort.Slice(replies, func(i, j int) bool {
		if replies[i].Num.int64() == replies[j].Num.int64() {
			return replies[i].Subnum.int64() < replies[j].Subnum.int64()
		}
		return replies[i].Num.int64() < replies[j].Num.int64()
	})
	ordered = append(ordered, replies...)

	snap = snapshot{
		raw:      raw,
		archived: typed.OP.TimestampExpired.int64() > 0 || typed.OP.Locked == "1",
	}
	for _, p := range ordered {
		post := archiver.Post{Num: p.Num.int64()}
		switch {
		case p.CommentProcessed != nil:
			post.HTMLComment = *p.CommentProcessed
		case p.Comment != nil:
			post.HTMLComment = *p.Comment
		}
		snap.posts = append(snap.posts, post)
		snap.keys = append(snap.keys, postKey{num: post.Num, subnum: p.Subnum.int64()})
		if att, ok := attachment(p.Media); ok {
			snap.files = append(snap.files, att)
		}
	}
	return snap, true, nil
}

func attachment(m *apiMedia) (archiver.Attachment, bool) {
	if m == nil {
		return archiver.Attachment{}, false
	}
	att := archiver.Attachment{
		FileURL:      deref(m.MediaLink),
		ThumbnailURL: deref(m.ThumbLink),
	}
	if att.FileURL == "" {
		att.FileURL = deref(m.RemoteMediaLink)
	}
	return att, att.FileURL != "" || att.ThumbnailURL != ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// postKey identifies a post, ghost replies included.
type postKey struct {
	num    int64
	subnum int64
}
