package httptransport

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"glass-server-go/internal/app/session"
	"glass-server-go/internal/domain/agent"
	"glass-server-go/internal/domain/image"
	"glass-server-go/internal/domain/photo"
	"glass-server-go/internal/platform/logging"
)

// App is the session surface served over HTTP.
type App interface {
	Snapshot() agent.State
	Subscribe(fn func(agent.State)) (unsubscribe func())
	Ask(ctx context.Context, question string) (string, bool)
	RequestCapture(ctx context.Context) error
	CaptureAvailable() bool
	Photos() []photo.Photo
	Photo(id uint64) (photo.Photo, bool)
	Ingest(data []byte) (photo.Photo, error)
	Preview(ctx context.Context, data []byte) (string, error)
	Describe(ctx context.Context, id uint64) (string, error)
	PeekDescription(id uint64) (string, bool)
	ClearPhotos(ctx context.Context) error
	Stats() session.Stats
}

var _ App = (*session.Session)(nil)

// streamBuffer bounds the snapshots queued for one SSE client.
const streamBuffer = 16

type api struct {
	app       App
	logger    *logging.Logger
	maxUpload int64
}

func (a *api) register(g *gin.RouterGroup) {
	g.GET("/state", a.handleState)
	g.GET("/state/stream", a.handleStateStream)
	g.POST("/answer", a.handleAnswer)
	g.POST("/capture", a.handleCapture)
	g.GET("/photos", a.handleListPhotos)
	g.POST("/photos", a.handleUpload)
	g.DELETE("/photos", a.handleClear)
	g.GET("/photos/:id/image", a.handlePhotoImage)
	g.GET("/photos/:id/description", a.handlePhotoDescription)
	g.POST("/vision", a.handleVision)
}

func (a *api) handleState(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, a.app.Snapshot(), "")
}

// handleStateStream pushes every snapshot as a server-sent "state" event.
// A slow client loses the oldest queued snapshots.
func (a *api) handleStateStream(c *gin.Context) {
	updates := make(chan agent.State, streamBuffer)
	unsubscribe := a.app.Subscribe(func(st agent.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", a.app.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case st := <-updates:
			c.SSEvent("state", st)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type answerRequest struct {
	Question string `json:"question"`
}

type answerResponse struct {
	Accepted bool   `json:"accepted"`
	Answer   string `json:"answer,omitempty"`
}

func (a *api) handleAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		RespondError(c, http.StatusBadRequest, "question is required", nil)
		return
	}
	answer, accepted := a.app.Ask(c.Request.Context(), strings.TrimSpace(req.Question))
	if !accepted {
		RespondError(c, http.StatusConflict, "an answer is already being prepared", answerResponse{Accepted: false})
		return
	}
	RespondSuccess(c, http.StatusOK, answerResponse{Accepted: true, Answer: answer}, "")
}

func (a *api) handleCapture(c *gin.Context) {
	if err := a.app.RequestCapture(c.Request.Context()); err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusAccepted, gin.H{"requested": true}, "capture requested")
}

type photoView struct {
	photo.Photo
	Description string `json:"description,omitempty"`
}

func (a *api) handleListPhotos(c *gin.Context) {
	photos := a.app.Photos()
	out := make([]photoView, 0, len(photos))
	for _, p := range photos {
		desc, _ := a.app.PeekDescription(p.ID)
		out = append(out, photoView{Photo: p, Description: desc})
	}
	RespondSuccess(c, http.StatusOK, gin.H{
		"photos":            out,
		"capture_available": a.app.CaptureAvailable(),
	}, "")
}

func (a *api) handleUpload(c *gin.Context) {
	data, err := a.readImage(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	p, err := a.app.Ingest(data)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusCreated, p, "photo stored")
}

func (a *api) handleClear(c *gin.Context) {
	if err := a.app.ClearPhotos(c.Request.Context()); err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, a.app.Snapshot(), "photos cleared")
}

func (a *api) handlePhotoImage(c *gin.Context) {
	p, ok := a.lookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, image.ContentType(detectFormat(p.Data)), p.Data)
}

func (a *api) handlePhotoDescription(c *gin.Context) {
	p, ok := a.lookup(c)
	if !ok {
		return
	}
	desc, err := a.app.Describe(c.Request.Context(), p.ID)
	if err != nil {
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"id": p.ID, "description": desc}, "")
}

// handleVision describes an uploaded image without storing it.
func (a *api) handleVision(c *gin.Context) {
	data, err := a.readImage(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	desc, err := a.app.Preview(c.Request.Context(), data)
	if err != nil {
		a.logger.WarnTag("HTTP", "vision preview failed: %v", err)
		RespondErr(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, gin.H{"result": desc}, "")
}

func (a *api) lookup(c *gin.Context) (photo.Photo, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid photo id", nil)
		return photo.Photo{}, false
	}
	p, ok := a.app.Photo(id)
	if !ok {
		RespondErr(c, session.ErrPhotoNotFound)
		return photo.Photo{}, false
	}
	return p, true
}
