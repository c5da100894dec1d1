// Package mockverifier implements a minimal "bulk verifier"-like API surface
// for tests and the local harness.
package mockverifier

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records one submitted candidate file.
type Upload struct {
	FileID   int
	Filename string
	Bytes    []byte
}

// Server implements the upload/fileinfo/download surface the pipeline
// consumes. Jobs finish after FinishAfterPolls progress checks; verdicts for
// downloaded results come from the Verdict function.
type Server struct {
	// FinishAfterPolls is how many fileinfo calls a job needs before its
	// status flips to finished. Zero means finished immediately.
	FinishAfterPolls int

	// Verdict decides the outcome reported for one uploaded candidate.
	// Nil means every candidate is "ok".
	Verdict func(line int, email string) string

	mu          sync.Mutex
	calls       []Call
	uploads     []Upload
	nextFileID  int
	jobs        map[int]*jobState
	expectedKey string
	failOps     map[string]int
}

type jobState struct {
	payload []byte
	polls   int
}

// New constructs a mock server.
func New() *Server {
	return &Server{
		FinishAfterPolls: 1,
		nextFileID:       1,
		jobs:             make(map[int]*jobState),
		failOps:          make(map[string]int),
	}
}

// RequireKey enforces that requests carry the given key query parameter.
// An empty key disables enforcement.
func (s *Server) RequireKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedKey = strings.TrimSpace(key)
}

// FailNext makes the next n requests to op ("upload", "fileinfo" or
// "download") respond with HTTP 500.
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = n
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Uploads returns a snapshot of submitted candidate files.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// Handler returns an http.Handler serving the mock API under /api/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/fileinfo", s.handleFileInfo)
	mux.HandleFunc("/api/download", s.handleDownload)
	return mux
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request, op string) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
	expected := s.expectedKey
	if n := s.failOps[op]; n > 0 {
		s.failOps[op] = n - 1
		s.mu.Unlock()
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return false
	}
	s.mu.Unlock()

	if expected != "" && r.URL.Query().Get("key") != expected {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "upload") {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, fh, err := r.FormFile("file_contents")
	if err != nil {
		http.Error(w, "missing file_contents", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	b, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	fileID := s.nextFileID
	s.nextFileID++
	s.jobs[fileID] = &jobState{payload: b}
	s.uploads = append(s.uploads, Upload{FileID: fileID, Filename: fh.Filename, Bytes: b})
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"file_id": fileID})
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "fileinfo") {
		return
	}
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	job.polls++
	finished := job.polls >= s.FinishAfterPolls
	s.mu.Unlock()

	status := "in_progress"
	percent := 50.0
	if finished {
		status = "finished"
		percent = 100
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           status,
		"percent":          percent,
		"credits_charged":  countLines(job.payload),
		"credits_returned": 0,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "download") {
		return
	}
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	finished := job.polls >= s.FinishAfterPolls
	payload := job.payload
	verdict := s.Verdict
	s.mu.Unlock()

	if !finished {
		http.Error(w, "results not ready", http.StatusConflict)
		return
	}
	if verdict == nil {
		verdict = func(int, string) string { return "ok" }
	}

	var out strings.Builder
	out.WriteString("result,line,email\n")
	for _, raw := range strings.Split(string(payload), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		fmt.Fprintf(&out, "%s,%d,%s\n", verdict(n, parts[1]), n, parts[1])
	}

	w.Header().Set("Content-Type", "text/csv")
	_, _ = io.WriteString(w, out.String())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*jobState, bool) {
	fileID, err := strconv.Atoi(r.URL.Query().Get("file_id"))
	if err != nil {
		http.Error(w, "invalid file_id", http.StatusBadRequest)
		return nil, false
	}
	s.mu.Lock()
	job, ok := s.jobs[fileID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown file_id", http.StatusNotFound)
		return nil, false
	}
	return job, true
}

func countLines(b []byte) int {
	n := 0
	for _, raw := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(raw) != "" {
			n++
		}
	}
	return n
}
