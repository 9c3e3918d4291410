package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"jobbridge/internal/database"
	"jobbridge/internal/ranking"
)

// fakeRankingService 顶替外部排名服务，按 seeker→rank 的映射应答。
type fakeRankingService struct {
	t        *testing.T
	ranks    map[uint]int
	requests []ranking.RankRequest
}

func (f *fakeRankingService) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ranking.RankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decode rank request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.requests = append(f.requests, req)

		top := make([]gin.H, 0, len(req.Applicants))
		for _, applicant := range req.Applicants {
			rank, ok := f.ranks[applicant.SeekerID]
			if !ok {
				continue
			}
			top = append(top, gin.H{
				"job_seeker_id":  applicant.SeekerID,
				"rank":           rank,
				"resume_name":    applicant.ResumeName,
				"score":          1.0 / float64(rank),
				"cosine_score":   0.8,
				"skill_ratio":    0.5,
				"matched_skills": []string{"go", "sql"},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gin.H{
			"success":      true,
			"job_id":       req.JobID,
			"ranked_count": len(top),
			"top":          top,
		})
	}
}

func TestRankJobWritesBackRanks(t *testing.T) {
	fake := &fakeRankingService{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	seekerA, _ := env.newIdentity(t, database.RoleJobSeeker)
	env.seedSeekerProfile(t, seekerA.ID, "Alice")
	env.seedApplication(t, job.ID, seekerA.ID)

	seekerB, _ := env.newIdentity(t, database.RoleJobSeeker)
	env.seedSeekerProfile(t, seekerB.ID, "Bob")
	env.seedApplication(t, job.ID, seekerB.ID)

	fake.ranks = map[uint]int{seekerA.ID: 2, seekerB.ID: 1}

	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/rank", job.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result ranking.RankResult
	decodeData(t, w, &result)
	if result.RankedCount != 2 {
		t.Fatalf("expected ranked_count 2, got %d", result.RankedCount)
	}

	// 排名服务拿到的是每份简历的原始字节
	if len(fake.requests) != 1 || len(fake.requests[0].Applicants) != 2 {
		t.Fatalf("unexpected upstream requests: %+v", fake.requests)
	}

	// 申请人列表按名次排序：Bob(1) 在 Alice(2) 前
	w = env.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/applicants", job.ID), token, nil)
	var data struct {
		Applicants []applicantView `json:"applicants"`
	}
	decodeData(t, w, &data)
	if len(data.Applicants) != 2 || data.Applicants[0].Name != "Bob" || data.Applicants[1].Name != "Alice" {
		t.Fatalf("unexpected applicant order: %+v", data.Applicants)
	}

	var stored database.Application
	if err := env.db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerB.ID).First(&stored).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if stored.Rank == nil || *stored.Rank != 1 || len(stored.RankDetails) == 0 {
		t.Fatalf("expected rank 1 with details, got %+v", stored)
	}
}

func TestRankJobReplacesPreviousRanks(t *testing.T) {
	fake := &fakeRankingService{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	seekerA, _ := env.newIdentity(t, database.RoleJobSeeker)
	env.seedSeekerProfile(t, seekerA.ID, "Alice")
	env.seedApplication(t, job.ID, seekerA.ID)

	seekerB, _ := env.newIdentity(t, database.RoleJobSeeker)
	env.seedSeekerProfile(t, seekerB.ID, "Bob")
	env.seedApplication(t, job.ID, seekerB.ID)

	path := fmt.Sprintf("/v1/jobs/%d/rank", job.ID)

	fake.ranks = map[uint]int{seekerA.ID: 1, seekerB.ID: 2}
	if w := env.do(t, http.MethodPost, path, token, nil); w.Code != http.StatusOK {
		t.Fatalf("first rank: expected 200, got %d", w.Code)
	}

	// 第二次响应里 B 缺席：它的旧名次必须被清掉而不是残留
	fake.ranks = map[uint]int{seekerA.ID: 1}
	if w := env.do(t, http.MethodPost, path, token, nil); w.Code != http.StatusOK {
		t.Fatalf("second rank: expected 200, got %d", w.Code)
	}

	var a, b database.Application
	if err := env.db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerA.ID).First(&a).Error; err != nil {
		t.Fatalf("reload a: %v", err)
	}
	if err := env.db.Where("job_id = ? AND seeker_id = ?", job.ID, seekerB.ID).First(&b).Error; err != nil {
		t.Fatalf("reload b: %v", err)
	}
	if a.Rank == nil || *a.Rank != 1 {
		t.Fatalf("expected a rank 1, got %+v", a.Rank)
	}
	if b.Rank != nil {
		t.Fatalf("expected b rank cleared, got %d", *b.Rank)
	}
	if s := string(b.RankDetails); s != "" && s != "null" {
		t.Fatalf("expected b rank details cleared, got %s", s)
	}
}

func TestRankJobUpstreamFailureLeavesRanksUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is down", http.StatusInternalServerError)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	seeker, _ := env.newIdentity(t, database.RoleJobSeeker)
	env.seedSeekerProfile(t, seeker.ID, "Alice")
	app := env.seedApplication(t, job.ID, seeker.ID)

	rank := 4
	if err := env.db.Model(&database.Application{}).Where("id = ?", app.ID).
		Update("rank", rank).Error; err != nil {
		t.Fatalf("seed prior rank: %v", err)
	}

	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/rank", job.ID), token, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	envl := decodeEnvelope(t, w)
	if envl.OK || envl.Error == nil || envl.Error.Kind != "upstream" {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}

	var saved database.Application
	if err := env.db.First(&saved, app.ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if saved.Rank == nil || *saved.Rank != rank {
		t.Fatalf("expected prior rank retained, got %+v", saved.Rank)
	}
}

func TestRankJobWithoutApplicantsSkipsUpstream(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/rank", job.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result ranking.RankResult
	decodeData(t, w, &result)
	if result.RankedCount != 0 || len(result.Top) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if called {
		t.Fatal("expected no upstream call for empty applicant set")
	}
}

func TestRankJobForbiddenForNonOwner(t *testing.T) {
	env := newTestEnv(t, "")
	owner, _ := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, owner.ID, "Backend Engineer")

	_, intruderToken := env.newIdentity(t, database.RoleEmployer)
	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/jobs/%d/rank", job.ID), intruderToken, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestFetchReportPassthrough(t *testing.T) {
	const reportHTML = "<html><body>ranked report</body></html>"
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Query().Get("download") == "1" {
			w.Header().Set("Content-Disposition", `attachment; filename="report.html"`)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, reportHTML)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	w := env.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/report", job.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != reportHTML {
		t.Fatalf("expected report passed through verbatim, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if gotQuery != "" {
		t.Fatalf("expected no query for inline report, got %q", gotQuery)
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/report?download=1", job.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d", w.Code)
	}
	if gotQuery != "download=1" {
		t.Fatalf("expected download flag forwarded, got %q", gotQuery)
	}
	if cd := w.Header().Get("Content-Disposition"); cd == "" {
		t.Fatal("expected Content-Disposition forwarded")
	}
}

func TestFetchReportUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no report yet", http.StatusNotFound)
	}))
	defer server.Close()

	env := newTestEnv(t, server.URL)
	employer, token := env.newIdentity(t, database.RoleEmployer)
	job := env.seedJob(t, employer.ID, "Backend Engineer")

	w := env.do(t, http.MethodGet, fmt.Sprintf("/v1/jobs/%d/report", job.ID), token, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}
