package livestatus

import "encoding/xml"

// atomFeed mirrors the subset of the hub's Atom payload the tracker cares
// about: the entries' yt:videoId. Deleted-entry notifications carry no entry
// element at all.
type atomFeed struct {
	Entries []struct {
		VideoID string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	} `xml:"entry"`
}

// ExtractVideoID pulls the video identifier out of a push notification body.
// Only the first entry is considered. A body without a parseable id
// (deletion notices, unrelated markup) is a normal "nothing actionable"
// outcome, not an error.
func ExtractVideoID(body []byte) (string, bool) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return "", false
	}
	if len(feed.Entries) == 0 {
		return "", false
	}
	id := feed.Entries[0].VideoID
	return id, id != ""
}
