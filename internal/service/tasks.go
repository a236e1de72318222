package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/rewards-portal/internal/metrics"
	"github.com/mmeshcher/rewards-portal/internal/model"
	"github.com/mmeshcher/rewards-portal/internal/repository"
)

// CreateTask добавляет новое задание.
func (s *Service) CreateTask(ctx context.Context, t model.Task) (*model.Task, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, model.Validationf("task name is required")
	}
	if len(t.RewardChoices) == 0 && t.Points <= 0 {
		return nil, model.Validationf("task reward must be positive")
	}
	for _, p := range t.RewardChoices {
		if p <= 0 {
			return nil, model.Validationf("reward choices must be positive, got %d", p)
		}
	}
	if t.Cooldown < 0 {
		return nil, model.Validationf("cooldown must not be negative")
	}
	if t.Cooldown%time.Second != 0 {
		return nil, model.Validationf("cooldown must be a whole number of seconds, got %s", t.Cooldown)
	}
	if t.Cooldown == 0 {
		t.Cooldown = s.opts.TaskCooldown
	}
	t.CreatedAt = s.now()

	if err := s.repo.CreateTask(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks возвращает все задания.
func (s *Service) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.repo.ListTasks(ctx)
}

// SetTaskEnabled включает или выключает задание.
func (s *Service) SetTaskEnabled(ctx context.Context, taskID int64, enabled bool) error {
	return s.repo.SetTaskEnabled(ctx, taskID, enabled)
}

// ClaimTask начисляет награду за задание, если для пользователя не действует окно повторного выполнения.
//
// Без записи о выполнении или с истёкшим окном создаётся новое окно и начисляются баллы.
// Внутри активного окна возвращается Awarded=false без изменений баланса и записи.
func (s *Service) ClaimTask(ctx context.Context, userID, taskID int64) (*model.ClaimResult, error) {
	var (
		res  *model.ClaimResult
		task *model.Task
	)

	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Status == model.UserStatusFrozen {
			return model.ErrAccountFrozen
		}

		task, err = tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.Enabled {
			return model.ErrTaskDisabled
		}

		now := s.now()
		window := s.cooldownFor(task)

		rec, found, err := tx.GetTaskCompletion(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if found && now.Before(rec.WindowStart.Add(window)) {
			res = &model.ClaimResult{
				Awarded:     false,
				NextClaimAt: rec.WindowStart.Add(window),
				Record:      *rec,
			}
			return nil
		}

		points := s.rewardFor(task)
		next := model.TaskCompletion{
			UserID:      userID,
			TaskID:      taskID,
			Count:       1,
			WindowStart: now,
			LastPoints:  points,
		}
		if err := tx.SaveTaskCompletion(ctx, &next); err != nil {
			return err
		}

		txRec, err := s.applyDelta(ctx, tx, userID, points, task.Name, strconv.FormatInt(taskID, 10))
		if err != nil {
			return err
		}

		res = &model.ClaimResult{
			Awarded:       true,
			PointsAwarded: points,
			NextClaimAt:   now.Add(window),
			Record:        next,
			Transaction:   txRec,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordClaim(res.Awarded, res.PointsAwarded)
	if res.Awarded {
		s.notify(ctx, userID, model.NotificationSuccess, "Task completed",
			fmt.Sprintf("You earned %d points for %q.", res.PointsAwarded, task.Name))
	}
	return res, nil
}

// TaskStatuses возвращает включённые задания с признаком доступности для пользователя.
func (s *Service) TaskStatuses(ctx context.Context, userID int64) ([]model.TaskStatus, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	completions, err := s.repo.ListTaskCompletions(ctx, userID)
	if err != nil {
		return nil, err
	}

	byTask := make(map[int64]model.TaskCompletion, len(completions))
	for _, c := range completions {
		byTask[c.TaskID] = c
	}

	now := s.now()
	res := make([]model.TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		st := model.TaskStatus{Task: t, Claimable: true}
		if c, ok := byTask[t.ID]; ok {
			end := c.WindowStart.Add(s.cooldownFor(&t))
			if now.Before(end) {
				st.Claimable = false
				st.NextClaimAt = &end
			}
		}
		res = append(res, st)
	}
	return res, nil
}

// ResetTaskCompletions удаляет все записи о выполнении заданий пользователем.
func (s *Service) ResetTaskCompletions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.repo.Atomic(ctx, func(tx repository.Store) error {
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		var err error
		n, err = tx.DeleteTaskCompletions(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Service) cooldownFor(t *model.Task) time.Duration {
	if t.Cooldown > 0 {
		return t.Cooldown
	}
	return s.opts.TaskCooldown
}

// rewardFor выбирает награду: случайное значение из RewardChoices или фиксированное Points.
func (s *Service) rewardFor(t *model.Task) int64 {
	if len(t.RewardChoices) > 0 {
		return t.RewardChoices[s.randIntN(len(t.RewardChoices))]
	}
	return t.Points
}
