package fakeapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxUploadBytes bounds an uploaded CSV.
const maxUploadBytes = 16 << 20

type upload struct {
	ID         string         `json:"fileId"`
	Filename   string         `json:"filename"`
	RowCount   int            `json:"rowCount"`
	UploadedAt time.Time      `json:"uploadedAt"`
	byCategory map[string]int // rows per Category column value
	byImpact   map[string]int // rows per Impact / Business Impact value
	owner      int64
}

type report struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	FileID    string    `json:"fileId"`
	CreatedAt time.Time `json:"createdAt"`
	content   string
	owner     int64
}

func (s *Server) nextIDLocked(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, a *account) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "Only CSV files are accepted")
		return
	}
	up, err := summarize(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	up.Filename = header.Filename
	up.UploadedAt = time.Now().UTC()
	up.owner = a.user.ID

	s.mu.Lock()
	up.ID = s.nextIDLocked("file")
	s.files[up.ID] = up
	out := *up
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

// summarize counts data rows and tallies the Category and Impact columns
// when the header has them.
func summarize(r io.Reader) (*upload, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, errors.New("CSV file is empty or unreadable")
	}
	category, impact := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "category":
			category = i
		case "impact", "business impact":
			impact = i
		}
	}

	up := &upload{byCategory: map[string]int{}, byImpact: map[string]int{}}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CSV parse error: %v", err)
		}
		up.RowCount++
		if category >= 0 && category < len(row) {
			up.byCategory[strings.TrimSpace(row[category])]++
		}
		if impact >= 0 && impact < len(row) {
			up.byImpact[strings.TrimSpace(row[impact])]++
		}
	}
	return up, nil
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, a *account) {
	stats := struct {
		TotalFiles           int            `json:"totalFiles"`
		TotalReports         int            `json:"totalReports"`
		TotalRecommendations int            `json:"totalRecommendations"`
		ByCategory           map[string]int `json:"byCategory"`
		ByImpact             map[string]int `json:"byImpact"`
	}{ByCategory: map[string]int{}, ByImpact: map[string]int{}}

	s.mu.Lock()
	for _, f := range s.files {
		if f.owner != a.user.ID {
			continue
		}
		stats.TotalFiles++
		stats.TotalRecommendations += f.RowCount
		for k, v := range f.byCategory {
			stats.ByCategory[k] += v
		}
		for k, v := range f.byImpact {
			stats.ByImpact[k] += v
		}
	}
	for _, rep := range s.reports {
		if rep.owner == a.user.ID {
			stats.TotalReports++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request, a *account) {
	s.mu.Lock()
	out := make([]report, 0, len(s.order))
	for _, id := range s.order {
		if rep := s.reports[id]; rep.owner == a.user.ID {
			out = append(out, *rep)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request, a *account) {
	var in struct {
		FileID string `json:"fileId"`
		Title  string `json:"title"`
		Type   string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.FileID == "" {
		writeError(w, http.StatusBadRequest, "fileId is required")
		return
	}
	if in.Type == "" {
		in.Type = "summary"
	}

	s.mu.Lock()
	f, ok := s.files[in.FileID]
	if !ok || f.owner != a.user.ID {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	rep := &report{
		ID:        s.nextIDLocked("report"),
		Title:     in.Title,
		Type:      in.Type,
		Status:    "completed",
		FileID:    f.ID,
		CreatedAt: time.Now().UTC(),
		owner:     a.user.ID,
		content:   renderReport(f),
	}
	if rep.Title == "" {
		rep.Title = "Report for " + f.Filename
	}
	s.reports[rep.ID] = rep
	s.order = append(s.order, rep.ID)
	out := *rep
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, out)
}

func renderReport(f *upload) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"category", "count"})
	for k, v := range f.byCategory {
		_ = w.Write([]string{k, fmt.Sprint(v)})
	}
	w.Flush()
	return b.String()
}

func (s *Server) lookupReport(w http.ResponseWriter, r *http.Request, a *account) (report, bool) {
	s.mu.Lock()
	rep, ok := s.reports[r.PathValue("id")]
	var out report
	if ok && rep.owner == a.user.ID {
		out = *rep
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Report not found")
	}
	return out, ok
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request, a *account) {
	if rep, ok := s.lookupReport(w, r, a); ok {
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request, a *account) {
	rep, ok := s.lookupReport(w, r, a)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.ID+".csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rep.content)
}
