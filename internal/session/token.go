package session

import "net/url"

// Token is the resumption token: one query parameter carrying a session id.
// Writes merge into the existing query so tokens of other schemas survive.
type Token struct {
	Param string
}

func (t Token) Read(q url.Values) string {
	if q == nil {
		return ""
	}
	return q.Get(t.Param)
}

func (t Token) Write(q url.Values, id string) {
	q.Set(t.Param, id)
}

func (t Token) Strip(q url.Values) {
	q.Del(t.Param)
}
