package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PuerkitoBio/goquery"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSiteHandler(t *testing.T) {
	Convey("Given a registered site handler", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux)

		Convey("GET / serves the form page", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "text/html")

			doc, err := goquery.NewDocumentFromReader(w.Body)
			So(err, ShouldBeNil)
			So(doc.Find("title").Text(), ShouldEqual, "PageSpeed Batch Runner")
			So(doc.Find("form#run-form textarea#urls").Length(), ShouldEqual, 1)
			So(doc.Find("input[name=devices]").Length(), ShouldEqual, 2)

			headers := doc.Find("#results-table th").Map(func(_ int, s *goquery.Selection) string {
				return s.Text()
			})
			So(headers, ShouldResemble, []string{"URL", "Device", "Performance", "Accessibility", "Best Practices", "SEO", "PWA"})
			So(doc.Find("script").Text(), ShouldContainSubstring, "/api/run-pagespeed")
		})

		Convey("other paths are not found", func() {
			for _, path := range []string{"/index.html", "/some-asset", "/static/index.html"} {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			}
		})

		Convey("only GET and HEAD are allowed", func() {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})

	Convey("Register panics on a nil mux", t, func() {
		So(func() { Register(context.Background(), nil) }, ShouldPanic)
	})
}
