// Package credits keeps per-user prepaid credit balances.
// models.go describes credit records, their targets and the audit trail.
package credits

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreditType is the kind of session a credit pays for.
type CreditType string

const (
	TypeLesson    CreditType = "lesson"
	TypeHandledar CreditType = "handledar"
)

// Target identifies what a credit can be spent on. It is a closed set:
// LessonTarget or HandledarTarget.
type Target interface {
	Type() CreditType
	String() string
	isTarget()
}

// LessonTarget is a credit for one lesson of a given lesson type.
type LessonTarget struct {
	LessonTypeID uuid.UUID
}

func (LessonTarget) Type() CreditType { return TypeLesson }
func (LessonTarget) isTarget()        {}
func (t LessonTarget) String() string { return "lesson:" + t.LessonTypeID.String() }

// HandledarTarget is a credit for a handledar session. An invalid SessionID
// means the credit is valid for any session.
type HandledarTarget struct {
	SessionID uuid.NullUUID
}

func (HandledarTarget) Type() CreditType { return TypeHandledar }
func (HandledarTarget) isTarget()        {}
func (t HandledarTarget) String() string {
	if !t.SessionID.Valid {
		return "handledar:any"
	}
	return "handledar:" + t.SessionID.UUID.String()
}

// AnyHandledar is the generic handledar credit target.
func AnyHandledar() Target { return HandledarTarget{} }

// Handledar returns the target for one specific handledar session.
func Handledar(sessionID uuid.UUID) Target {
	return HandledarTarget{SessionID: uuid.NullUUID{UUID: sessionID, Valid: true}}
}

// Lesson returns the target for a lesson type.
func Lesson(lessonTypeID uuid.UUID) Target {
	return LessonTarget{LessonTypeID: lessonTypeID}
}

// Columns maps a target onto the (lesson_type_id, handledar_session_id)
// column pair of user_credits and package_contents.
func Columns(t Target) (lessonTypeID, handledarSessionID *uuid.UUID) {
	switch v := t.(type) {
	case LessonTarget:
		id := v.LessonTypeID
		return &id, nil
	case HandledarTarget:
		if v.SessionID.Valid {
			id := v.SessionID.UUID
			return nil, &id
		}
	}
	return nil, nil
}

// TargetFromColumns is the inverse of Columns.
func TargetFromColumns(ct CreditType, lessonTypeID, handledarSessionID *uuid.UUID) (Target, error) {
	switch ct {
	case TypeLesson:
		if lessonTypeID == nil {
			return nil, fmt.Errorf("lesson credit without lesson type")
		}
		return Lesson(*lessonTypeID), nil
	case TypeHandledar:
		if handledarSessionID == nil {
			return AnyHandledar(), nil
		}
		return Handledar(*handledarSessionID), nil
	}
	return nil, fmt.Errorf("unknown credit type %q", ct)
}

// Record is one row of user_credits. (UserID, Target) is unique.
type Record struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Target           Target
	CreditsRemaining int        // never below zero
	CreditsTotal     int        // only grows, on grants
	PackageID        *uuid.UUID // package that first created the record
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reason explains a ledger movement in the audit trail.
type Reason string

const (
	ReasonGrant     Reason = "grant"     // manual grant by an operator
	ReasonReimburse Reason = "reimburse" // cancelled lesson given back
	ReasonPackage   Reason = "package"   // package purchase confirmed
	ReasonDeduct    Reason = "deduct"    // credit spent on a booking
	ReasonRemove    Reason = "remove"    // record deleted outright
)

// Transaction is one audit row in credit_transactions.
type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Target    Target
	Delta     int // positive for grants, negative for deductions
	Reason    Reason
	CreatedAt time.Time
}

// GrantOptions carries optional data for a grant.
type GrantOptions struct {
	PackageID *uuid.UUID
	Reason    Reason // defaults to ReasonGrant
}
