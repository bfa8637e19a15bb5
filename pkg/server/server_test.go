package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/socialpassport/passport-registry/pkg/audit"
	"github.com/socialpassport/passport-registry/pkg/ha"
	"github.com/socialpassport/passport-registry/pkg/passport"
)

func openMemoryDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)
	DeferCleanup(sqlDB.Close)
	return db
}

type apiCaller struct {
	base string
}

func (c apiCaller) do(method, path, role string, body any) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-User-Id", role+"-1")
		req.Header.Set("X-User-Role", role)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, data
}

var _ = Describe("Server", func() {
	var (
		db     *gorm.DB
		srv    *Server
		ts     *httptest.Server
		client apiCaller
	)

	BeforeEach(func() {
		db = openMemoryDB()
		srv = NewServer(db, slog.New(slog.NewTextHandler(io.Discard, nil)),
			WithAuditConfig(audit.DefaultAuditConfig()),
			WithMigrationLocker(ha.NewMigrationLocker(nil, ha.DefaultLockConfig())),
			WithMetricsRegistry(prometheus.NewRegistry()),
		)
		Expect(srv.Init(context.Background())).To(Succeed())
		ts = httptest.NewServer(srv.MountRoutes())
		DeferCleanup(ts.Close)
		client = apiCaller{base: ts.URL}
	})

	Context("health endpoints", func() {
		It("reports liveness", func() {
			for _, path := range []string{"/healthz", "/livez"} {
				resp, body := client.do(http.MethodGet, path, "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(string(body)).To(ContainSubstring(`"status":"alive"`))
			}
		})

		It("reports readiness while the database answers", func() {
			resp, body := client.do(http.MethodGet, "/readyz", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"status":"ready"`))
		})

		It("reports not ready once the database is gone", func() {
			sqlDB, err := db.DB()
			Expect(err).NotTo(HaveOccurred())
			Expect(sqlDB.Close()).To(Succeed())

			resp, body := client.do(http.MethodGet, "/readyz", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(string(body)).To(ContainSubstring(`"status":"down"`))
		})
	})

	Context("passport API", func() {
		It("requires an identity", func() {
			resp, _ := client.do(http.MethodGet, "/api/v1/passports", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("creates a passport and records entity and request audit events", func() {
			By("creating a passport as curator")
			resp, body := client.do(http.MethodPost, "/api/v1/passports", "curator",
				passport.CreatePassportRequest{ServiceName: "Business licence"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(body))

			var created passport.Passport
			Expect(json.Unmarshal(body, &created)).To(Succeed())
			Expect(created.Status).To(Equal(passport.StateDraft))

			By("reading the audit log as admin")
			resp, body = client.do(http.MethodGet, "/api/v1/audit/events", "admin", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var list passport.AuditEventList
			Expect(json.Unmarshal(body, &list)).To(Succeed())
			types := map[string]int{}
			for _, e := range list.Events {
				types[e.EventType]++
			}
			Expect(types).To(HaveKeyWithValue(passport.EventTypeEntity, 1))
			Expect(types).To(HaveKeyWithValue(passport.EventTypeRequest, 1))
		})

		It("audits forbidden writes but not unauthenticated ones", func() {
			resp, _ := client.do(http.MethodPost, "/api/v1/passports", "",
				passport.CreatePassportRequest{ServiceName: "Anonymous"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, _ = client.do(http.MethodPost, "/api/v1/passports", "user",
				passport.CreatePassportRequest{ServiceName: "Reader"})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			resp, body := client.do(http.MethodGet, "/api/v1/audit/events?eventType=request", "admin", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var list passport.AuditEventList
			Expect(json.Unmarshal(body, &list)).To(Succeed())
			Expect(list.Events).To(HaveLen(1))
			Expect(list.Events[0].StatusCode).To(Equal(http.StatusForbidden))
			Expect(list.Events[0].Outcome).To(Equal(passport.OutcomeDenied))
			Expect(list.Events[0].Actor).To(Equal("user-1"))
		})

		It("denies a curator the audit log", func() {
			resp, _ := client.do(http.MethodGet, "/api/v1/audit/events", "curator", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("serves version creation end to end", func() {
			resp, body := client.do(http.MethodPost, "/api/v1/passports", "curator",
				passport.CreatePassportRequest{ServiceName: "Fishing permit"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var p passport.Passport
			Expect(json.Unmarshal(body, &p)).To(Succeed())

			path := "/api/v1/passports/" + strconv.FormatInt(p.ID, 10) + "/versions"
			resp, body = client.do(http.MethodPost, path, "curator",
				passport.CreateVersionRequest{Data: map[string]any{"fee": 12}, Comment: "initial fee"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(body))

			var v passport.PassportVersion
			Expect(json.Unmarshal(body, &v)).To(Succeed())
			Expect(v.Version).To(Equal(2))
		})
	})

	Context("metrics", func() {
		It("exposes registry metrics", func() {
			resp, body := client.do(http.MethodGet, "/metrics", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})
	})

	Context("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/passports", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "https://portal.example.org")
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("https://portal.example.org"))
		})
	})
})

var _ = Describe("Server without a database", func() {
	It("fails migration and reports not ready", func() {
		srv := NewServer(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
		Expect(srv.Migrate(context.Background())).To(MatchError(passport.ErrUnavailable))
		Expect(srv.Init(context.Background())).To(Succeed())

		rec := httptest.NewRecorder()
		srv.MountRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring("not_configured"))
	})

	It("returns 503 for writes", func() {
		srv := NewServer(nil, nil)
		Expect(srv.Init(context.Background())).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/passports", strings.NewReader(`{"serviceName":"x"}`))
		req.Header.Set("X-User-Id", "c-1")
		req.Header.Set("X-User-Role", "curator")
		rec := httptest.NewRecorder()
		srv.MountRoutes().ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
