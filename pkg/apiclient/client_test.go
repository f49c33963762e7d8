package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/employee-management/pkg/apiclient"
	"github.com/frahmantamala/employee-management/pkg/logger"
)

// tokenServer accepts a single valid access token and hands out a
// replacement from the refresh endpoint.
type tokenServer struct {
	mu    sync.Mutex
	valid string
	next  string

	refreshFails bool
	release      chan struct{}

	protectedHits  atomic.Int32
	unauthorized   atomic.Int32
	refreshHits    atomic.Int32
	alwaysDenyAuth bool
}

func (s *tokenServer) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/protected", func(w http.ResponseWriter, r *http.Request) {
		s.protectedHits.Add(1)
		s.mu.Lock()
		ok := !s.alwaysDenyAuth && r.Header.Get("Authorization") == "Bearer "+s.valid
		s.mu.Unlock()
		if !ok {
			s.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"message":"Not authenticated"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Post("/api/users/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		s.refreshHits.Add(1)
		if s.release != nil {
			<-s.release
		}
		s.mu.Lock()
		fails := s.refreshFails
		s.mu.Unlock()
		if fails {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":401,"message":"No refresh token"}`))
			return
		}
		s.mu.Lock()
		s.valid = s.next
		token := s.next
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	return r
}

func (s *tokenServer) allowRefresh(next string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFails = false
	s.next = next
}

var _ = Describe("Client", func() {
	var (
		ts      *tokenServer
		server  *httptest.Server
		client  *apiclient.Client
		expired atomic.Int32
		// onExpired runs inside OnSessionExpired after the counter is bumped.
		onExpired func()
	)

	BeforeEach(func() {
		ts = &tokenServer{valid: "A2", next: "A2"}
		expired.Store(0)
		onExpired = nil
	})

	JustBeforeEach(func() {
		server = httptest.NewServer(ts.router())
		var err error
		client, err = apiclient.New(apiclient.Config{
			BaseURL:        server.URL,
			RefreshTimeout: 2 * time.Second,
			OnSessionExpired: func() {
				expired.Add(1)
				if onExpired != nil {
					onExpired()
				}
			},
			Logger: logger.Discard(),
		})
		Expect(err).NotTo(HaveOccurred())
		client.SetToken("A1")
	})

	AfterEach(func() {
		server.Close()
	})

	get := func() (int, error) {
		resp, err := client.Do(context.Background(), http.MethodGet, "/api/protected", nil)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}

	It("requires a base url", func() {
		_, err := apiclient.New(apiclient.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("sends the cached token without refreshing when it is accepted", func() {
		client.SetToken("A2")
		Expect(get()).To(Equal(http.StatusOK))
		Expect(ts.refreshHits.Load()).To(BeZero())
	})

	Context("when several requests hit an expired token together", func() {
		BeforeEach(func() {
			ts.release = make(chan struct{})
		})

		It("refreshes once and retries every request with the new token", func() {
			const callers = 5
			var wg sync.WaitGroup
			statuses := make([]int, callers)
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i], errs[i] = get()
				}(i)
			}

			Eventually(ts.unauthorized.Load).Should(BeEquivalentTo(callers))
			time.Sleep(50 * time.Millisecond)
			close(ts.release)
			wg.Wait()

			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(1))
			for i := 0; i < callers; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(statuses[i]).To(Equal(http.StatusOK))
			}
			Expect(client.Token()).To(Equal("A2"))
			Expect(ts.protectedHits.Load()).To(BeEquivalentTo(2 * callers))
		})
	})

	Context("when the refresh is refused", func() {
		BeforeEach(func() {
			ts.refreshFails = true
			ts.release = make(chan struct{})
		})

		It("expires the session once and fails every waiting request", func() {
			const callers = 3
			var wg sync.WaitGroup
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = get()
				}(i)
			}

			Eventually(ts.unauthorized.Load).Should(BeEquivalentTo(callers))
			time.Sleep(50 * time.Millisecond)
			close(ts.release)
			wg.Wait()

			for _, err := range errs {
				Expect(errors.Is(err, apiclient.ErrSessionExpired)).To(BeTrue())
			}
			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(1))
			Expect(expired.Load()).To(BeEquivalentTo(1))
			Expect(client.Token()).To(BeEmpty())
		})

		It("lets a signed-out client try the cookie again", func() {
			close(ts.release)
			_, err := get()
			Expect(errors.Is(err, apiclient.ErrSessionExpired)).To(BeTrue())

			ts.allowRefresh("A3")
			Expect(get()).To(Equal(http.StatusOK))
			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(2))
		})
	})

	Context("when the session-expired callback calls the API again", func() {
		var (
			reentered atomic.Bool
			innerErr  error
		)

		BeforeEach(func() {
			ts.refreshFails = true
			reentered.Store(false)
			innerErr = nil
			onExpired = func() {
				if reentered.CompareAndSwap(false, true) {
					_, innerErr = get()
				}
			}
		})

		It("runs the callback outside the shared refresh", func() {
			done := make(chan error, 1)
			go func() {
				_, err := get()
				done <- err
			}()

			var err error
			Eventually(done, 2*time.Second).Should(Receive(&err))
			Expect(errors.Is(err, apiclient.ErrSessionExpired)).To(BeTrue())
			Expect(errors.Is(innerErr, apiclient.ErrSessionExpired)).To(BeTrue())
			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(2))
			Expect(expired.Load()).To(BeEquivalentTo(2))
		})
	})

	Context("when a waiting caller gives up", func() {
		BeforeEach(func() {
			ts.release = make(chan struct{})
		})

		It("returns its own context error while the refresh completes for the others", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancelled := make(chan error, 1)
			go func() {
				_, err := client.Do(ctx, http.MethodGet, "/api/protected", nil)
				cancelled <- err
			}()

			patient := make(chan int, 1)
			go func() {
				defer GinkgoRecover()
				status, err := get()
				Expect(err).NotTo(HaveOccurred())
				patient <- status
			}()

			Eventually(ts.refreshHits.Load).Should(BeEquivalentTo(1))
			Eventually(ts.unauthorized.Load).Should(BeEquivalentTo(2))
			cancel()

			var err error
			Eventually(cancelled).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))

			close(ts.release)
			Eventually(patient).Should(Receive(Equal(http.StatusOK)))
			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(1))
			Expect(client.Token()).To(Equal("A2"))
		})
	})

	Context("when the retried request is also unauthorized", func() {
		BeforeEach(func() {
			ts.alwaysDenyAuth = true
		})

		It("returns the second 401 without looping", func() {
			Expect(get()).To(Equal(http.StatusUnauthorized))
			Expect(ts.refreshHits.Load()).To(BeEquivalentTo(1))
			Expect(ts.protectedHits.Load()).To(BeEquivalentTo(2))
		})
	})

	Describe("DoJSON", func() {
		It("decodes a successful body", func() {
			var out struct {
				OK bool `json:"ok"`
			}
			Expect(client.DoJSON(context.Background(), http.MethodGet, "/api/protected", nil, &out)).To(Succeed())
			Expect(out.OK).To(BeTrue())
		})

		It("surfaces the server message as a StatusError", func() {
			err := client.DoJSON(context.Background(), http.MethodGet, "/api/missing", nil, nil)
			var statusErr *apiclient.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
