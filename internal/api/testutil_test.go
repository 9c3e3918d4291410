package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jobbridge/internal/auth"
	"jobbridge/internal/database"
	"jobbridge/internal/ranking"
)

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	sessions *auth.SessionStore
	redis    *miniredis.Miniredis
	privKey  *rsa.PrivateKey
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.Identity{},
		&database.JobSeekerProfile{},
		&database.EmployerProfile{},
		&database.Job{},
		&database.Application{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newTestEnv 启动一套完整的路由与依赖：sqlite、miniredis、断言校验器。
// rankingBaseURL 为空时指向一个不可达地址。
func newTestEnv(t *testing.T, rankingBaseURL string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := auth.NewSessionStore(redisClient, time.Hour)

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	verifier, err := auth.NewVerifier(pubPEM)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if rankingBaseURL == "" {
		rankingBaseURL = "http://127.0.0.1:1"
	}
	rankingClient := ranking.NewClient(rankingBaseURL, 2*time.Second)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger)
	RegisterRoutes(router, db, sessions, verifier, rankingClient, redisClient, logger, 5*1024*1024, "")

	return &testEnv{
		router:   router,
		db:       db,
		sessions: sessions,
		redis:    mr,
		privKey:  privKey,
	}
}

// signAssertion 以测试密钥签发一枚登录断言。
func (e *testEnv) signAssertion(t *testing.T, subject, email string) string {
	t.Helper()
	claims := auth.AssertionClaims{
		Email:    email,
		Provider: "google",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(e.privKey)
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}
	return signed
}

// newIdentity 直接落库创建身份并签发会话令牌。
func (e *testEnv) newIdentity(t *testing.T, role database.Role) (database.Identity, string) {
	t.Helper()
	identity := database.Identity{
		Email:    uuid.NewString() + "@example.com",
		Provider: "google",
		Subject:  uuid.NewString(),
		Role:     role,
	}
	if err := e.db.Create(&identity).Error; err != nil {
		t.Fatalf("create identity: %v", err)
	}
	token, err := e.sessions.Create(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return identity, token
}

func (e *testEnv) seedSeekerProfile(t *testing.T, identityID uint, name string) database.JobSeekerProfile {
	t.Helper()
	profile := database.JobSeekerProfile{
		IdentityID:     identityID,
		Name:           name,
		College:        "Test College",
		Degree:         "B.Tech",
		GraduationYear: 2024,
		ResumeName:     name + ".pdf",
		ResumeData:     []byte("%PDF-1.4 fake resume of " + name),
	}
	if err := e.db.Create(&profile).Error; err != nil {
		t.Fatalf("seed seeker profile: %v", err)
	}
	return profile
}

func (e *testEnv) seedEmployerProfile(t *testing.T, identityID uint, company string) database.EmployerProfile {
	t.Helper()
	profile := database.EmployerProfile{
		IdentityID: identityID,
		Name:       "Hiring Manager",
		Company:    company,
		Title:      "HR Lead",
	}
	if err := e.db.Create(&profile).Error; err != nil {
		t.Fatalf("seed employer profile: %v", err)
	}
	return profile
}

func (e *testEnv) seedJob(t *testing.T, employerID uint, title string) database.Job {
	t.Helper()
	job := database.Job{
		EmployerID:  employerID,
		Title:       title,
		Description: "build and ship things",
		RoleTag:     "backend",
	}
	if err := e.db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func (e *testEnv) seedApplication(t *testing.T, jobID, seekerID uint) database.Application {
	t.Helper()
	app := database.Application{
		JobID:    jobID,
		SeekerID: seekerID,
		Status:   database.ApplicationApplied,
	}
	if err := e.db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

// do 发送一个 JSON 请求，token 为空表示匿名。
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type seekerForm struct {
	name           string
	college        string
	degree         string
	graduationYear string
	resumeName     string
	resume         []byte
}

// doSeekerForm 发送求职者建档的 multipart 表单。
func (e *testEnv) doSeekerForm(t *testing.T, token string, form seekerForm) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"name":            form.name,
		"college":         form.college,
		"degree":          form.degree,
		"graduation_year": form.graduationYear,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if form.resume != nil {
		part, err := writer.CreateFormFile("resume", form.resumeName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(form.resume); err != nil {
			t.Fatalf("write resume: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/seekers", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
	}
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	env := decodeEnvelope(t, w)
	if !env.OK {
		t.Fatalf("expected ok envelope, got %s", w.Body.String())
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v body=%s", err, w.Body.String())
	}
}

func pdfBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte("%PDF-1.4\n"))
	return data
}
