package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/app"
	"media-compressor-go/internal/batch"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/preview"
	"media-compressor-go/internal/resource"
	"media-compressor-go/internal/saver"
	"media-compressor-go/internal/statistics"
)

const maxUploadMemory = 64 << 20

type Server struct {
	log        *logrus.Logger
	session    *batch.Session
	workspace  *resource.Workspace
	registry   *resource.Registry
	stats      *statistics.Statistics
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type QualityRequest struct {
	Quality string `json:"quality"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BatchStatus summarises one category batch.
type BatchStatus struct {
	Category media.Category `json:"category"`
	Jobs     int            `json:"jobs"`
	Limit    int            `json:"limit"`
	Quality  media.Quality  `json:"quality"`
	Running  bool           `json:"running"`
}

// JobView adds display strings to a job snapshot.
type JobView struct {
	batch.Snapshot
	Size       string `json:"size"`
	Duration   string `json:"duration,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

func NewServer(a *app.App) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:       a.Logger,
		session:   a.Session,
		workspace: a.Workspace,
		registry:  a.Registry,
		stats:     a.Stats,
		router:    mux.NewRouter(),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	b := api.PathPrefix("/batches/{category}").Subrouter()
	b.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	b.HandleFunc("/jobs", s.handleAdmit).Methods("POST")
	b.HandleFunc("/jobs", s.handleClear).Methods("DELETE")
	b.HandleFunc("/jobs/{id}", s.handleRemove).Methods("DELETE")
	b.HandleFunc("/jobs/{id}/download", s.handleDownloadOne).Methods("GET")
	b.HandleFunc("/jobs/{id}/preview", s.handlePreview).Methods("GET")
	b.HandleFunc("/quality", s.handleSetQuality).Methods("PUT")
	b.HandleFunc("/compress", s.handleCompress).Methods("POST")
	b.HandleFunc("/download", s.handleDownloadAll).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels running compressions and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*batch.Controller, bool) {
	cat, err := media.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	c, err := s.session.Controller(cat)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return c, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var batches []BatchStatus
	for _, cat := range s.session.Categories() {
		c, _ := s.session.Controller(cat)
		batches = append(batches, BatchStatus{
			Category: cat,
			Jobs:     c.Len(),
			Limit:    c.MaxSize(),
			Quality:  c.Quality(),
			Running:  c.Running(),
		})
	}

	rs := s.registry.Stats()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"batches": batches,
			"statistics": map[string]interface{}{
				"summary":   s.stats.GetSummary(),
				"completed": s.stats.GetJobsCompleted(),
				"failed":    s.stats.GetJobsFailed(),
				"original":  statistics.FormatBytes(s.stats.GetBytesOriginal()),
				"saved":     statistics.FormatBytes(s.stats.GetBytesOriginal() - s.stats.GetBytesCompressed()),
			},
			"handles": map[string]interface{}{
				"outstanding": rs.Outstanding,
				"released":    rs.Released,
			},
		},
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, "since must be an integer", http.StatusBadRequest)
			return
		}
		since = n
	}
	s.writeJSON(w, APIResponse{Success: true, Data: s.session.Events().Since(since)})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	jobs := c.ListJobs()
	views := make([]JobView, len(jobs))
	for i, j := range jobs {
		views[i] = newJobView(j)
	}
	s.writeJSON(w, APIResponse{Success: true, Data: views})
}

func newJobView(j batch.Snapshot) JobView {
	v := JobView{Snapshot: j, Size: statistics.FormatBytes(j.OriginalSize)}
	if j.Metadata != nil {
		v.Duration = j.Metadata.FormatDuration()
		v.Bitrate = j.Metadata.Bitrate()
		v.Resolution = j.Metadata.Resolution()
	}
	return v
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.writeError(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	files := make([]media.SourceFile, 0, len(headers))
	for _, fh := range headers {
		src, err := s.storeUpload(fh)
		if err != nil {
			for _, f := range files {
				s.registry.Release(f.Handle)
			}
			s.writeError(w, fmt.Sprintf("Failed to store upload: %v", err), http.StatusInternalServerError)
			return
		}
		files = append(files, src)
	}

	res, err := c.Admit(files)
	if err != nil {
		if errors.Is(err, batch.ErrCapacityExceeded) {
			s.writeError(w, err.Error(), http.StatusConflict)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d file(s) admitted", len(res.Admitted)),
		Data:    res,
	})
}

// storeUpload copies an upload into the workspace and registers it as a handle.
func (s *Server) storeUpload(fh *multipart.FileHeader) (media.SourceFile, error) {
	in, err := fh.Open()
	if err != nil {
		return media.SourceFile{}, err
	}
	defer in.Close()

	name := filepath.Base(fh.Filename)
	ext := filepath.Ext(name)
	path, err := s.workspace.NewFile("upload", ext)
	if err != nil {
		return media.SourceFile{}, err
	}
	token := s.registry.Register(path)

	out, err := os.Create(path)
	if err != nil {
		s.registry.Release(token)
		return media.SourceFile{}, err
	}
	size, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.registry.Release(token)
		return media.SourceFile{}, err
	}

	mediaType := media.Normalize(fh.Header.Get("Content-Type"))
	if mediaType == "" || mediaType == "application/octet-stream" {
		if mediaType, err = media.DetectFile(path); err != nil {
			s.registry.Release(token)
			return media.SourceFile{}, err
		}
	}
	return media.SourceFile{
		Name:      name,
		Path:      path,
		MediaType: mediaType,
		Size:      size,
		Handle:    token,
	}, nil
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if err := c.Remove(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, batch.ErrJobProcessing) {
			s.writeError(w, "Job is being compressed and cannot be removed", http.StatusConflict)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Message: "Job removed"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	n := c.Clear()
	s.writeJSON(w, APIResponse{Success: true, Message: fmt.Sprintf("%d job(s) removed", n)})
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req QualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	q, err := media.ParseQuality(req.Quality)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.SetQuality(q)
	s.writeJSON(w, APIResponse{Success: true, Data: map[string]interface{}{"quality": q}})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	if c.Running() {
		s.writeError(w, "Compression already in progress", http.StatusConflict)
		return
	}

	go func() {
		if err := c.RunCompression(s.ctx); err != nil {
			s.log.WithField("category", c.Category()).Warnf("Compression run ended: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Message: "Compression started"})
}

func (s *Server) handleDownloadOne(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	job, err := c.Get(id)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if job.State != batch.StateCompleted {
		s.writeError(w, fmt.Sprintf("Job is %s", job.State), http.StatusConflict)
		return
	}
	if _, err := c.DownloadOne(r.Context(), id, &responseSaver{w: w, mediaType: job.Result.MediaType}); err != nil {
		s.log.Errorf("Download of %s failed: %v", id, err)
	}
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment("compressed_"+c.Category().String()+".zip"))

	zs := saver.NewZipSaver(w)
	n, err := c.DownloadCompleted(r.Context(), zs)
	if err != nil {
		s.log.Errorf("Batch download failed after %d file(s): %v", n, err)
	}
	if err := zs.Close(); err != nil {
		s.log.Errorf("Failed to finish zip: %v", err)
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	path, err := c.PreviewPath(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, batch.ErrJobNotFound), errors.Is(err, preview.ErrNoPreview):
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := s.session.Events().Subscribe(64)
	defer unsubscribe()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	s.log.Debug("WebSocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.log.Debug("WebSocket client disconnected")
			return
		case <-s.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(WSMessage{Type: "event", Data: e}); err != nil {
				s.log.Debugf("Failed to write WebSocket message: %v", err)
				return
			}
		}
	}
}

// responseSaver streams a single download to the HTTP client.
type responseSaver struct {
	w         http.ResponseWriter
	mediaType string
}

func (rs *responseSaver) Save(ctx context.Context, name string, r io.Reader) error {
	if rs.mediaType != "" {
		rs.w.Header().Set("Content-Type", rs.mediaType)
	}
	rs.w.Header().Set("Content-Disposition", attachment(name))
	_, err := io.Copy(rs.w, r)
	return err
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
