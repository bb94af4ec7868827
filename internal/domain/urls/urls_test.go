package urls_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/okian/pagespeed/internal/domain/urls"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSanitize(t *testing.T) {
	Convey("Given copy-pasted URLs", t, func() {
		Convey("When the URL is wrapped in brackets and whitespace", func() {
			So(urls.Sanitize("  [http://x.com]  "), ShouldEqual, "http://x.com")
		})

		Convey("When the URL is already clean", func() {
			So(urls.Sanitize("http://x.com"), ShouldEqual, "http://x.com")
		})

		Convey("When sanitizing twice", func() {
			once := urls.Sanitize(" [ https://example.org/a?b=c ] ")
			So(urls.Sanitize(once), ShouldEqual, once)
			So(once, ShouldEqual, "https://example.org/a?b=c")
		})
	})
}

func TestParseList(t *testing.T) {
	Convey("Given a comma-separated URL list", t, func() {
		Convey("When it contains blanks and padding", func() {
			list, err := urls.ParseList(" http://a.com, ,http://b.com ,, ", 30)

			Convey("Then tokens are trimmed and empties dropped", func() {
				So(err, ShouldBeNil)
				So(list, ShouldResemble, []string{"http://a.com", "http://b.com"})
			})
		})

		Convey("When it is empty", func() {
			_, err := urls.ParseList("", 30)
			So(err, ShouldEqual, urls.ErrEmpty)
		})

		Convey("When it only has separators", func() {
			_, err := urls.ParseList(" , ,", 30)
			So(err, ShouldEqual, urls.ErrEmpty)
		})

		Convey("When it has exactly the maximum", func() {
			list, err := urls.ParseList(makeList(30), 30)
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 30)
		})

		Convey("When it has 31 distinct entries", func() {
			_, err := urls.ParseList(makeList(31), 30)
			So(err, ShouldEqual, urls.ErrTooMany)
		})
	})
}

func makeList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("http://site%d.com", i)
	}
	return strings.Join(parts, ",")
}
