package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client 访问外部排名服务。排名计算与报表渲染都发生在对端，
// 这里只负责传输、超时与响应形状校验。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 构造排名服务客户端，超时由配置决定。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Applicant 是送去排名的单个申请人。简历走 base64（encoding/json 对 []byte 的默认编码）。
type Applicant struct {
	SeekerID   uint   `json:"job_seeker_id"`
	ResumeName string `json:"resume_name"`
	ResumeData []byte `json:"resume_data"`
}

// RankRequest 携带职位描述与全部申请人简历。
type RankRequest struct {
	JobID       uint        `json:"job_id"`
	Description string      `json:"job_description"`
	Applicants  []Applicant `json:"applicants"`
}

// RankEntry 是排名服务返回的单行结果。
type RankEntry struct {
	SeekerID      uint     `json:"job_seeker_id"`
	Rank          int      `json:"rank"`
	ResumeName    string   `json:"resume_name"`
	Score         float64  `json:"score"`
	CosineScore   float64  `json:"cosine_score"`
	SkillRatio    float64  `json:"skill_ratio"`
	MatchedSkills []string `json:"matched_skills"`
}

// RankResult 是排名调用的聚合结果。
type RankResult struct {
	RankedCount int         `json:"ranked_count"`
	Top         []RankEntry `json:"top"`
}

type rankResponse struct {
	Success     bool        `json:"success"`
	JobID       uint        `json:"job_id"`
	RankedCount int         `json:"ranked_count"`
	Top         []RankEntry `json:"top"`
}

// Rank 把职位与申请人简历发给排名服务，返回 seeker→rank 结果。
// 网络失败、非 2xx 或畸形响应统一以错误返回，由调用方映射为 Upstream。
func (c *Client) Rank(ctx context.Context, req RankRequest) (*RankResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("ranking base url missing")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode rank request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/api/jobs/%d/rank", c.baseURL, req.JobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request ranking service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("ranking service status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rank response: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("ranking service reported failure for job %d", req.JobID)
	}

	seen := make(map[uint]bool, len(decoded.Top))
	for _, entry := range decoded.Top {
		if entry.Rank <= 0 {
			return nil, fmt.Errorf("malformed rank response: rank %d for seeker %d", entry.Rank, entry.SeekerID)
		}
		if seen[entry.SeekerID] {
			return nil, fmt.Errorf("malformed rank response: duplicate seeker %d", entry.SeekerID)
		}
		seen[entry.SeekerID] = true
	}

	return &RankResult{
		RankedCount: decoded.RankedCount,
		Top:         decoded.Top,
	}, nil
}

// FetchReport 透传报表响应，核心不改动负载。调用方负责关闭 Body。
func (c *Client) FetchReport(ctx context.Context, jobID uint, download bool) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("ranking base url missing")
	}

	targetURL := fmt.Sprintf("%s/api/jobs/%d/report", c.baseURL, jobID)
	if download {
		targetURL += "?download=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build report request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request report: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("report status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp, nil
}
