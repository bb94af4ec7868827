package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pagespeed/internal/adapters/pagespeed"
	"github.com/okian/pagespeed/internal/adapters/repository"
	service "github.com/okian/pagespeed/internal/app"
	"github.com/okian/pagespeed/internal/domain/model"
	"github.com/okian/pagespeed/internal/domain/ratelimit"
	"github.com/okian/pagespeed/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeScorer records calls and answers with a score derived from the call order.
type fakeScorer struct {
	mu     sync.Mutex
	calls  []model.ScoreRequest
	failOn map[string]error
	delay  func(model.ScoreRequest) time.Duration
}

func (f *fakeScorer) FetchScore(ctx context.Context, url string, device model.Device) (model.ScoreResult, error) {
	req := model.ScoreRequest{URL: url, Device: device}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(req)):
		case <-ctx.Done():
			return model.ScoreResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	if err, ok := f.failOn[url+"|"+string(device)]; ok {
		return model.ScoreResult{}, err
	}
	return model.ScoreResult{URL: url, Device: device, PerformanceScore: float64(n)}, nil
}

func (f *fakeScorer) Calls() []model.ScoreRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ScoreRequest(nil), f.calls...)
}

// fakeAdmitter returns a fixed decision and counts calls.
type fakeAdmitter struct {
	allow bool
	err   error
	calls int
}

func (f *fakeAdmitter) TryAdmit(context.Context) (bool, error) {
	f.calls++
	return f.allow, f.err
}

// failingStore fails every insert after the first n.
type failingStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	after int
}

func (s *failingStore) Insert(ctx context.Context, r *model.ScoreResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.after <= 0 {
		return fmt.Errorf("%w: disk full", repository.ErrPersist)
	}
	s.after--
	return s.MemoryStore.Insert(ctx, r)
}

func pairs(calls []model.ScoreRequest) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.URL + "|" + string(c.Device)
	}
	return out
}

func resultPairs(results []model.ScoreResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.URL + "|" + string(r.Device)
	}
	return out
}

func newService(scorer service.Scorer, store service.ResultStore, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithScorer(scorer),
		service.WithStore(store),
		service.WithAPIKeyConfigured(true),
		service.WithLogger(logger.Get()),
	}
	return service.New(append(base, opts...)...)
}

func TestService_RunBatch(t *testing.T) {
	Convey("Given a configured service", t, func() {
		ctx := context.Background()
		scorer := &fakeScorer{}
		store := repository.NewMemoryStore()
		svc := newService(scorer, store)

		Convey("When a two-URL batch runs on all devices", func() {
			results, err := svc.RunBatch(ctx, "http://a.com, http://b.com", nil)

			Convey("Then four calls happen in URL then device order", func() {
				So(err, ShouldBeNil)
				So(pairs(scorer.Calls()), ShouldResemble, []string{
					"http://a.com|mobile", "http://a.com|desktop",
					"http://b.com|mobile", "http://b.com|desktop",
				})
			})

			Convey("Then results come back in the same order and are persisted", func() {
				So(resultPairs(results), ShouldResemble, pairs(scorer.Calls()))
				for _, r := range results {
					So(r.ID, ShouldNotBeEmpty)
					stored, err := store.Get(ctx, r.ID)
					So(err, ShouldBeNil)
					So(stored.URL, ShouldEqual, r.URL)
				}
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 4)
			})
		})

		Convey("When only desktop is requested", func() {
			results, err := svc.RunBatch(ctx, "http://a.com", []model.Device{model.DeviceDesktop, model.DeviceDesktop})

			Convey("Then only the desktop profile runs", func() {
				So(err, ShouldBeNil)
				So(resultPairs(results), ShouldResemble, []string{"http://a.com|desktop"})
			})
		})

		Convey("When the input has blanks between commas", func() {
			results, err := svc.RunBatch(ctx, " http://a.com ,, ,", []model.Device{model.DeviceMobile})

			Convey("Then blanks are dropped", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 1)
			})
		})

		Convey("When the input is empty", func() {
			_, err := svc.RunBatch(ctx, "  , ,", nil)

			Convey("Then it is invalid input and nothing is called", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				So(scorer.Calls(), ShouldBeEmpty)
			})
		})

		Convey("When 31 URLs are submitted", func() {
			list := make([]string, 31)
			for i := range list {
				list[i] = fmt.Sprintf("http://site%d.com", i)
			}
			_, err := svc.RunBatch(ctx, strings.Join(list, ","), nil)

			Convey("Then the batch is rejected as too many URLs", func() {
				So(errors.Is(err, service.ErrTooManyURLs), ShouldBeTrue)
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "got 31")
				So(scorer.Calls(), ShouldBeEmpty)
			})
		})

		Convey("When exactly 30 URLs are submitted", func() {
			list := make([]string, 30)
			for i := range list {
				list[i] = fmt.Sprintf("http://site%d.com", i)
			}
			results, err := svc.RunBatch(ctx, strings.Join(list, ","), []model.Device{model.DeviceMobile})

			Convey("Then the batch runs", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 30)
			})
		})
	})

	Convey("Given a service whose limiter denies", t, func() {
		scorer := &fakeScorer{}
		store := repository.NewMemoryStore()
		admitter := &fakeAdmitter{allow: false}
		svc := newService(scorer, store, service.WithAdmitter(admitter))

		Convey("When a batch runs", func() {
			_, err := svc.RunBatch(context.Background(), "http://a.com, http://b.com", nil)

			Convey("Then it is rate limited with no calls and no writes", func() {
				So(errors.Is(err, service.ErrRateLimited), ShouldBeTrue)
				So(admitter.calls, ShouldEqual, 1)
				So(scorer.Calls(), ShouldBeEmpty)
				n, _ := store.Count(context.Background())
				So(n, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a service with a limiter admitting one batch", t, func() {
		scorer := &fakeScorer{}
		window := ratelimit.New(ratelimit.WithMaxRequests(1))
		svc := newService(scorer, repository.NewMemoryStore(), service.WithAdmitter(window))

		Convey("When only unsupported devices are requested", func() {
			_, err := svc.RunBatch(context.Background(), "http://a.com", []model.Device{"tablet"})

			Convey("Then it is invalid input and no slot is taken", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
				So(scorer.Calls(), ShouldBeEmpty)

				results, err := svc.RunBatch(context.Background(), "http://a.com", []model.Device{model.DeviceMobile})
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a service whose limiter store is down", t, func() {
		scorer := &fakeScorer{}
		svc := newService(scorer, repository.NewMemoryStore(),
			service.WithAdmitter(&fakeAdmitter{err: errors.New("connection refused")}))

		Convey("When a batch runs", func() {
			_, err := svc.RunBatch(context.Background(), "http://a.com", nil)

			Convey("Then the batch fails closed", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, service.ErrRateLimited), ShouldBeFalse)
				So(scorer.Calls(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a real window admitting one batch", t, func() {
		scorer := &fakeScorer{}
		svc := newService(scorer, repository.NewMemoryStore(),
			service.WithAdmitter(ratelimit.New(ratelimit.WithMaxRequests(1))))

		Convey("When two batches run", func() {
			_, err1 := svc.RunBatch(context.Background(), "http://a.com, http://b.com, http://c.com", nil)
			_, err2 := svc.RunBatch(context.Background(), "http://a.com", nil)

			Convey("Then the whole first batch counts once and the second is denied", func() {
				So(err1, ShouldBeNil)
				So(errors.Is(err2, service.ErrRateLimited), ShouldBeTrue)
				So(scorer.Calls(), ShouldHaveLength, 6)
			})
		})
	})

	Convey("Given a service without an API key", t, func() {
		scorer := &fakeScorer{}
		admitter := &fakeAdmitter{allow: true}
		svc := service.New(
			service.WithScorer(scorer),
			service.WithAdmitter(admitter),
			service.WithLogger(logger.Get()),
		)

		Convey("When any batch runs, even an invalid one", func() {
			_, err1 := svc.RunBatch(context.Background(), "http://a.com", nil)
			_, err2 := svc.RunBatch(context.Background(), "", nil)

			Convey("Then configuration fails first with no calls", func() {
				So(errors.Is(err1, service.ErrConfiguration), ShouldBeTrue)
				So(errors.Is(err2, service.ErrConfiguration), ShouldBeTrue)
				So(admitter.calls, ShouldEqual, 0)
				So(scorer.Calls(), ShouldBeEmpty)
			})
		})
	})

	Convey("Given an upstream failing on the third call", t, func() {
		upstreamErr := &pagespeed.UpstreamError{Status: 500, Message: "backend error"}
		scorer := &fakeScorer{failOn: map[string]error{"http://b.com|mobile": upstreamErr}}
		store := repository.NewMemoryStore()
		svc := newService(scorer, store)

		Convey("When the batch runs", func() {
			results, err := svc.RunBatch(context.Background(), "http://a.com, http://b.com", nil)

			Convey("Then the batch aborts and earlier rows stay", func() {
				So(results, ShouldBeNil)
				So(errors.Is(err, pagespeed.ErrUpstream), ShouldBeTrue)
				var ue *pagespeed.UpstreamError
				So(errors.As(err, &ue), ShouldBeTrue)
				So(ue.Message, ShouldEqual, "backend error")
				So(scorer.Calls(), ShouldHaveLength, 3)
				n, _ := store.Count(context.Background())
				So(n, ShouldEqual, 2)
				So(service.Outcome(err), ShouldEqual, "upstream_error")
			})
		})
	})

	Convey("Given a store that fails on the second write", t, func() {
		scorer := &fakeScorer{}
		store := &failingStore{MemoryStore: repository.NewMemoryStore(), after: 1}
		svc := newService(scorer, store)

		Convey("When the batch runs", func() {
			_, err := svc.RunBatch(context.Background(), "http://a.com", nil)

			Convey("Then the persistence error aborts the batch", func() {
				So(errors.Is(err, repository.ErrPersist), ShouldBeTrue)
				So(scorer.Calls(), ShouldHaveLength, 2)
				n, _ := store.Count(context.Background())
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestService_RunBatchConcurrent(t *testing.T) {
	Convey("Given a service running four pairs at once", t, func() {
		// Earlier requests take longer so completion order is reversed.
		scorer := &fakeScorer{delay: func(r model.ScoreRequest) time.Duration {
			d := 40 * time.Millisecond
			if r.URL == "http://b.com" {
				d -= 20 * time.Millisecond
			}
			if r.Device == model.DeviceDesktop {
				d -= 10 * time.Millisecond
			}
			return d
		}}
		svc := newService(scorer, repository.NewMemoryStore(), service.WithConcurrency(4))

		Convey("When the batch runs", func() {
			results, err := svc.RunBatch(context.Background(), "http://a.com, http://b.com", nil)

			Convey("Then results still follow input order", func() {
				So(err, ShouldBeNil)
				So(resultPairs(results), ShouldResemble, []string{
					"http://a.com|mobile", "http://a.com|desktop",
					"http://b.com|mobile", "http://b.com|desktop",
				})
				So(scorer.Calls(), ShouldHaveLength, 4)
			})
		})
	})

	Convey("Given a concurrent service and a failing pair", t, func() {
		scorer := &fakeScorer{failOn: map[string]error{
			"http://a.com|mobile": &pagespeed.MalformedError{Reason: "missing lighthouseResult.categories"},
		}}
		svc := newService(scorer, repository.NewMemoryStore(), service.WithConcurrency(2))

		Convey("When the batch runs", func() {
			results, err := svc.RunBatch(context.Background(), "http://a.com, http://b.com", nil)

			Convey("Then the failure is returned", func() {
				So(results, ShouldBeNil)
				So(errors.Is(err, pagespeed.ErrMalformedResponse), ShouldBeTrue)
				So(service.Outcome(err), ShouldEqual, "malformed_response")
			})
		})
	})
}

func TestService_RunSingle(t *testing.T) {
	Convey("Given a configured service", t, func() {
		scorer := &fakeScorer{}
		svc := newService(scorer, repository.NewMemoryStore())

		Convey("When a URL containing a comma is scored", func() {
			r, err := svc.RunSingle(context.Background(), " http://a.com/?q=1,2 ")

			Convey("Then it runs once on mobile without splitting", func() {
				So(err, ShouldBeNil)
				So(r.ID, ShouldNotBeEmpty)
				So(pairs(scorer.Calls()), ShouldResemble, []string{"http://a.com/?q=1,2|mobile"})
			})
		})

		Convey("When the URL is blank", func() {
			_, err := svc.RunSingle(context.Background(), "   ")

			Convey("Then it is invalid input", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
			})
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(&fakeScorer{}, repository.NewMemoryStore(), service.WithMaxURLs(5))

		Convey("When it is started and a batch runs", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()
			_, _ = svc.RunBatch(context.Background(), "http://a.com", nil)
			_, _ = svc.RunBatch(context.Background(), "", nil)

			Convey("Then stats reflect it", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["maxUrls"], ShouldEqual, 5)
				So(stats["batchesTotal"], ShouldEqual, int64(2))
				So(stats["batchesSucceeded"], ShouldEqual, int64(1))
				So(stats["batchesRejected"], ShouldEqual, int64(1))
				So(stats["storedResults"], ShouldEqual, 2)
				rs, ok := stats["rateLimit"].(ratelimit.Stats)
				So(ok, ShouldBeTrue)
				So(rs.InWindow, ShouldEqual, 1)
				So(rs.Max, ShouldEqual, ratelimit.DefaultMaxRequests)
			})

			Convey("Then stored results can be read back", func() {
				list, err := svc.List(context.Background(), repository.Filter{URL: "http://a.com"})
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 2)
				got, err := svc.Get(context.Background(), list[0].ID)
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, list[0].ID)
			})
		})

		Convey("When stopping without starting", func() {
			Convey("Then it does not panic", func() {
				So(svc.Stop, ShouldNotPanic)
			})
		})
	})
}
