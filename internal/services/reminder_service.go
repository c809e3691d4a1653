package services

import (
	"log"
	"time"
)

// TaskSendReminder is the scheduling-lock key of the daily reminder job.
const TaskSendReminder = "REMINDER"

// ReminderStore abstracts persistence operations required by ReminderService.
type ReminderStore interface {
	// DeleteExpiredLocks removes lock rows for task acquired before the given time,
	// so a crashed holder's lease expires.
	DeleteExpiredLocks(task string, before time.Time) error
	// InsertLock atomically inserts the uniquely keyed lock row; a conflict error
	// means another process already holds the lock.
	InsertLock(task string, at time.Time) error
	// ListRemindableSurveys returns RELEASED surveys with a reminder configured,
	// ordered by nameID asc, version desc.
	ListRemindableSurveys() ([]*Survey, error)
	ListDeviceTokens() ([]*DeviceToken, error)
	HasResponse(userID, instanceID string) (bool, error)
}

// PushSender delivers one reminder to one device. Implementations live outside the
// core; failures must be structured enough to log and continue.
type PushSender interface {
	Send(token, title, body string, data map[string]string) error
}

// ReminderService runs the daily reminder dispatch behind a cross-process
// scheduling lock. The lock is an atomic insert-if-absent against the record
// store's unique key, never an in-memory mutex: correctness must hold across
// independent processes with no shared memory.
type ReminderService struct {
	store     ReminderStore
	instances InstanceResolver
	sender    PushSender
	now       func() time.Time
	lockTTL   time.Duration
	title     string
	message   string
}

func NewReminderService(store ReminderStore, instances InstanceResolver, sender PushSender, lockTTL time.Duration, title, message string) *ReminderService {
	return &ReminderService{
		store:     store,
		instances: instances,
		sender:    sender,
		now:       func() time.Time { return time.Now().UTC() },
		lockTTL:   lockTTL,
		title:     title,
		message:   message,
	}
}

// SendReminders acquires the daily lock and, if this process wins, dispatches
// reminders. Returns false when another process holds the lock, which is an
// expected outcome, not an error.
func (s *ReminderService) SendReminders() (bool, error) {
	acquired, err := s.acquireLock(TaskSendReminder)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	return true, s.dispatch()
}

// acquireLock expires stale lock rows, then races on the unique insert. Exactly
// one concurrent caller wins; losers observe the constraint violation.
func (s *ReminderService) acquireLock(task string) (bool, error) {
	now := s.now()

	if s.lockTTL > 0 {
		if err := s.store.DeleteExpiredLocks(task, now.Add(-s.lockTTL)); err != nil {
			return false, err
		}
	}

	if err := s.store.InsertLock(task, now); err != nil {
		if IsConflict(err) {
			// Concurrency by multiple instances; failing to store the same entry is valid.
			log.Printf("reminder: expected lock violation: %v", err)
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *ReminderService) dispatch() error {
	log.Printf("reminder: sending reminders...")

	now := s.now()

	surveys, err := s.store.ListRemindableSurveys()
	if err != nil {
		return err
	}

	handled := map[string]bool{}
	for _, survey := range surveys {
		// Handle the current version only.
		if handled[survey.NameID] {
			continue
		}
		handled[survey.NameID] = true

		unit, ok := reminderUnit(survey.ReminderType)
		if !ok {
			log.Printf("reminder: no mapping defined for reminder type %s, skipping survey %s",
				survey.ReminderType, survey.NameID)
			continue
		}

		instance, err := s.instances.CurrentInstance(survey)
		if err != nil {
			return err
		}

		if now.After(instance.StartTime.Add(time.Duration(survey.ReminderValue) * unit)) {
			if err := s.remindSurvey(survey, instance); err != nil {
				return err
			}
		}
	}

	return nil
}

// remindSurvey broadcasts to every device whose owning user has not answered the
// current instance yet. Per-recipient failures never abort the loop.
func (s *ReminderService) remindSurvey(survey *Survey, instance *SurveyInstance) error {
	tokens, err := s.store.ListDeviceTokens()
	if err != nil {
		return err
	}

	for _, device := range tokens {
		responded, err := s.store.HasResponse(device.UserID, instance.ID)
		if err != nil {
			return err
		}
		if responded {
			continue
		}

		data := map[string]string{"surveyNameId": survey.NameID}
		if err := s.sender.Send(device.Token, s.title, s.message, data); err != nil {
			log.Printf("reminder: send to device %s failed: %v", device.ID, err)
		}
	}

	return nil
}

// reminderUnit maps a reminder type to its elapsed-time unit. Only AFTER_DAYS is
// defined; any other non-NONE value is a configuration error at the call site.
func reminderUnit(t ReminderType) (time.Duration, bool) {
	switch t {
	case ReminderAfterDays:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}
