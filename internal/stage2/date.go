package stage2

import "time"

// svnDateLayouts covers svn:date's two observed shapes: with and without
// fractional seconds. Both are always UTC ("Z" suffix), per the SVN
// dumpfile format's own specification.
var svnDateLayouts = []string{
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02T15:04:05Z",
}

func parseSvnDateSeconds(svnDate string) (int64, bool) {
	for _, layout := range svnDateLayouts {
		if t, err := time.Parse(layout, svnDate); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}
