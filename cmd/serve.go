package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document ingestion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Processor.Start(ctx)
		defer env.Processor.Stop()

		r := buildRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the ingestion API routes.
func buildRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()

	origins := cfg.Server.AllowedOrigin
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/deals/{dealID}/documents", env.handleUpload)

	r.Get("/api/runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
		run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "runID"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			zap.L().Error("serve: load run", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return r
}

// handleUpload accepts a multipart upload of one or more documents for a
// deal, registers them, and starts an analysis run over the deal's
// pending documents.
func (pe *pipelineEnv) handleUpload(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	dealID := chi.URLParam(req, "dealID")

	if _, err := pe.Store.GetDeal(ctx, dealID); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "deal not found"})
			return
		}
		zap.L().Error("serve: load deal", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	maxBytes := cfg.Server.MaxUploadMB << 20
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes)
	if err := req.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large or malformed"})
		return
	}

	files := req.MultipartForm.File["files"]
	if len(files) == 0 {
		files = req.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files in upload"})
		return
	}

	var docIDs []string
	for _, fh := range files {
		path, err := saveUpload(fh, cfg.Fetch.InboxDir, dealID)
		if err != nil {
			zap.L().Error("serve: save upload", zap.String("filename", fh.Filename), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store upload"})
			return
		}
		doc, err := registerDocument(ctx, pe.Store, dealID, path, fh.Header.Get("Content-Type"))
		if err != nil {
			zap.L().Error("serve: register document", zap.String("filename", fh.Filename), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "register document"})
			return
		}
		docIDs = append(docIDs, doc.ID)
	}

	run, err := pe.Processor.StartRun(ctx, dealID, model.ParsePriority(req.FormValue("priority")))
	if err != nil {
		zap.L().Error("serve: start run", zap.String("deal_id", dealID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "start run"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":    run.ID,
		"documents": docIDs,
	})
}

// saveUpload writes one multipart file into the deal's inbox directory.
// Each deal gets its own subdirectory so same-named uploads from
// different deals don't overwrite each other.
func saveUpload(fh *multipart.FileHeader, dir, dealID string) (string, error) {
	dir = filepath.Join(dir, dealID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "create inbox dir")
	}

	src, err := fh.Open()
	if err != nil {
		return "", eris.Wrap(err, "open upload")
	}
	defer src.Close()

	name := filepath.Base(fh.Filename)
	if name == "" || name == "." || name == ".." || name == "/" {
		name = "upload"
	}
	dest := filepath.Join(dir, name)

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "create inbox file")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", eris.Wrap(err, "write inbox file")
	}
	if err := out.Close(); err != nil {
		return "", eris.Wrap(err, "close inbox file")
	}
	return dest, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
