package services

import (
	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/sse"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// UserChannel is the SSE channel a client subscribes to for everything owned
// by one user.
func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// ChapterChannel carries chapter-scoped events (status transitions).
func ChapterChannel(chapterID uuid.UUID) string {
	return "chapter:" + chapterID.String()
}

// JobNotifier publishes job lifecycle events. All methods are fire-and-forget
// and tolerate a nil receiver, nil emitter and nil job so callers never have
// to guard emission paths.
type JobNotifier struct {
	Emitter SSEEmitter
}

func NewJobNotifier(emitter SSEEmitter) *JobNotifier {
	return &JobNotifier{Emitter: emitter}
}

func (n *JobNotifier) emit(event sse.SSEEvent, job *types.JobRun, data map[string]any) {
	if n == nil || n.Emitter == nil || job == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["job_id"] = job.ID
	data["job_type"] = job.JobType
	if job.EntityID != nil {
		data["entity_id"] = *job.EntityID
	}
	n.Emitter.Emit(sse.SSEMessage{
		Channel: UserChannel(job.OwnerUserID),
		Event:   event,
		Data:    data,
	})
}

func (n *JobNotifier) JobCreated(job *types.JobRun) {
	n.emit(sse.SSEEventJobCreated, job, map[string]any{
		"status": types.JobStatusQueued,
	})
}

func (n *JobNotifier) JobProgress(job *types.JobRun, stage string, progress int) {
	n.emit(sse.SSEEventJobProgress, job, map[string]any{
		"stage":    stage,
		"progress": progress,
	})
}

func (n *JobNotifier) JobFailed(job *types.JobRun, stage string, errMsg string, terminal bool) {
	n.emit(sse.SSEEventJobFailed, job, map[string]any{
		"stage":    stage,
		"error":    errMsg,
		"terminal": terminal,
		"attempts": job.Attempts,
	})
}

func (n *JobNotifier) JobDone(job *types.JobRun, result map[string]any) {
	data := map[string]any{"status": types.JobStatusSucceeded}
	for k, v := range result {
		data[k] = v
	}
	n.emit(sse.SSEEventJobDone, job, data)
}

// ChapterNotifier publishes chapter status transitions to chapter
// subscribers.
type ChapterNotifier interface {
	ChapterStatusChanged(chapter *types.Chapter)
}

type chapterNotifier struct {
	emitter SSEEmitter
}

func NewChapterNotifier(emitter SSEEmitter) ChapterNotifier {
	return &chapterNotifier{emitter: emitter}
}

func (n *chapterNotifier) ChapterStatusChanged(chapter *types.Chapter) {
	if n == nil || n.emitter == nil || chapter == nil {
		return
	}
	n.emitter.Emit(sse.SSEMessage{
		Channel: ChapterChannel(chapter.ID),
		Event:   sse.SSEEventChapterStatusChanged,
		Data: map[string]any{
			"chapter_id": chapter.ID,
			"course_id":  chapter.CourseID,
			"status":     chapter.Status,
		},
	})
}
