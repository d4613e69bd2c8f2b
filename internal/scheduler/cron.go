package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Modelflow/internal/domain"
)

// cronParser разбирает стандартные 5-польные cron-выражения
// (минута час день месяц день-недели).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующий запуск schedule после from.
// Cron-выражение раскрывается в timezone schedule; результат всегда
// в UTC, как хранится в БД.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	local := from.In(scheduleLocation(sched))

	switch {
	case sched.IsCron():
		expr, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
		}
		return expr.Next(local).UTC(), nil

	case sched.IsInterval():
		return local.Add(time.Duration(sched.IntervalSec) * time.Second).UTC(), nil

	default:
		return time.Time{}, errors.New("schedule has neither cron_expr nor interval_sec")
	}
}

// CalculateInitialNextDue вычисляет первый запуск нового schedule.
func CalculateInitialNextDue(sched *domain.Schedule) (time.Time, error) {
	return CalculateNextDue(sched, time.Now())
}

// ValidateCronExpr проверяет cron-выражение до сохранения schedule.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// scheduleLocation возвращает timezone schedule.
// Невалидная зона не должна останавливать scheduler — берём UTC.
func scheduleLocation(sched *domain.Schedule) *time.Location {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
