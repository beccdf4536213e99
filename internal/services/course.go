package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/studyowl/studyowl-backend/internal/logger"
	"github.com/studyowl/studyowl-backend/internal/repos"
	"github.com/studyowl/studyowl-backend/internal/types"
)

// CourseService covers the synchronous course/chapter surface: creation,
// reads and the manual completion mark on chapters.
type CourseService interface {
	CreateCourse(ctx context.Context, ownerUserID uuid.UUID, title, description, language string, chapterTitles []string) (*types.Course, []*types.Chapter, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*types.Course, []*types.Chapter, error)
	GetChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error)
	CompleteChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error)
}

type courseService struct {
	log      *logger.Logger
	courses  repos.CourseRepo
	chapters repos.ChapterRepo
	notify   ChapterNotifier
}

func NewCourseService(baseLog *logger.Logger, courseRepo repos.CourseRepo, chapterRepo repos.ChapterRepo, notify ChapterNotifier) CourseService {
	return &courseService{
		log:      baseLog.With("service", "CourseService"),
		courses:  courseRepo,
		chapters: chapterRepo,
		notify:   notify,
	}
}

func (s *courseService) CreateCourse(ctx context.Context, ownerUserID uuid.UUID, title, description, language string, chapterTitles []string) (*types.Course, []*types.Chapter, error) {
	if ownerUserID == uuid.Nil {
		return nil, nil, fmt.Errorf("owner user id required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, fmt.Errorf("course title required")
	}
	if language == "" {
		language = "en"
	}

	course := &types.Course{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Title:       title,
		Description: description,
		Language:    language,
	}
	created, err := s.courses.Create(ctx, nil, []*types.Course{course})
	if err != nil {
		return nil, nil, fmt.Errorf("create course: %w", err)
	}
	course = created[0]

	chapters := make([]*types.Chapter, 0, len(chapterTitles))
	for i, ct := range chapterTitles {
		ct = strings.TrimSpace(ct)
		if ct == "" {
			continue
		}
		chapters = append(chapters, &types.Chapter{
			ID:       uuid.New(),
			CourseID: course.ID,
			Title:    ct,
			Position: i,
			Status:   types.ChapterStatusDraft,
		})
	}
	if len(chapters) > 0 {
		if chapters, err = s.chapters.Create(ctx, nil, chapters); err != nil {
			return nil, nil, fmt.Errorf("create chapters: %w", err)
		}
	}

	s.log.Info("Course created", "course_id", course.ID, "chapters", len(chapters))
	return course, chapters, nil
}

func (s *courseService) GetCourse(ctx context.Context, id uuid.UUID) (*types.Course, []*types.Chapter, error) {
	courses, err := s.courses.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, nil, err
	}
	if len(courses) == 0 {
		return nil, nil, fmt.Errorf("course %s not found", id)
	}
	chapters, err := s.chapters.GetByCourseIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, nil, err
	}
	return courses[0], chapters, nil
}

func (s *courseService) GetChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error) {
	chapters, err := s.chapters.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("chapter %s not found", id)
	}
	return chapters[0], nil
}

// CompleteChapter applies the manual terminal mark. Only a ready chapter can
// be completed; pipeline recomputation never undoes it afterwards.
func (s *courseService) CompleteChapter(ctx context.Context, id uuid.UUID) (*types.Chapter, error) {
	chapter, err := s.GetChapter(ctx, id)
	if err != nil {
		return nil, err
	}
	if chapter.Status == types.ChapterStatusCompleted {
		return chapter, nil
	}
	if chapter.Status != types.ChapterStatusReady {
		return nil, fmt.Errorf("chapter %s is %s, only ready chapters can be completed", id, chapter.Status)
	}

	if err := s.chapters.UpdateFields(ctx, nil, id, map[string]interface{}{
		"status": types.ChapterStatusCompleted,
	}); err != nil {
		return nil, fmt.Errorf("complete chapter: %w", err)
	}
	chapter.Status = types.ChapterStatusCompleted
	if s.notify != nil {
		s.notify.ChapterStatusChanged(chapter)
	}
	s.log.Info("Chapter completed", "chapter_id", id)
	return chapter, nil
}
