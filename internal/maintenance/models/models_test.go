package models

import (
	"testing"

	"github.com/stretchr/testify/assert"

	attendance "keystone/internal/attendance/models"
	"keystone/pkg/domain"
)

func TestEffective(t *testing.T) {
	attended := attendance.Verdict{OfficiallyAttended: true, Method: attendance.MethodCode}
	absent := attendance.Verdict{Method: attendance.MethodNone}

	t.Run("attended without decision defaults to maintained", func(t *testing.T) {
		a := Effective(attended, &attendance.ParticipationRecord{})
		assert.Equal(t, attendance.DecisionMaintained, a.Decision)
		assert.True(t, a.Defaulted)
	})

	t.Run("explicit demotion overrides attendance", func(t *testing.T) {
		a := Effective(attended, &attendance.ParticipationRecord{FinalApproval: attendance.DecisionDemoted})
		assert.Equal(t, attendance.DecisionDemoted, a.Decision)
		assert.False(t, a.Defaulted)
	})

	t.Run("absent without decision is unresolved", func(t *testing.T) {
		a := Effective(absent, nil)
		assert.False(t, a.Resolved())
		assert.Equal(t, Unresolved, a.Label())
	})

	t.Run("explicit maintained for absent member", func(t *testing.T) {
		a := Effective(absent, &attendance.ParticipationRecord{FinalApproval: attendance.DecisionMaintained})
		assert.Equal(t, "MAINTAINED", a.Label())
		assert.False(t, a.Defaulted)
	})
}

func TestFold(t *testing.T) {
	unnumbered := ParticipantSummary{
		MemberID: domain.NewMemberID(),
		Method:   attendance.MethodNone,
		Intent:   attendance.IntentUndecided,
	}
	second := ParticipantSummary{
		MemberID:          domain.NewMemberID(),
		MemberNumber:      "KS0000002",
		Method:            attendance.MethodCode,
		Intent:            attendance.IntentWillAttend,
		EffectiveApproval: EffectiveApproval{Decision: attendance.DecisionMaintained, Defaulted: true},
	}
	first := ParticipantSummary{
		MemberID:          domain.NewMemberID(),
		MemberNumber:      "KS0000001",
		Method:            attendance.MethodCode,
		Intent:            attendance.IntentWillAttend,
		EffectiveApproval: EffectiveApproval{Decision: attendance.DecisionDemoted},
	}

	s := Fold(&attendance.Occurrence{}, []ParticipantSummary{unnumbered, second, first})

	assert.Equal(t, []domain.MemberID{first.MemberID, second.MemberID, unnumbered.MemberID},
		[]domain.MemberID{s.Participants[0].MemberID, s.Participants[1].MemberID, s.Participants[2].MemberID})
	assert.Equal(t, 2, s.ByMethod[attendance.MethodCode])
	assert.Equal(t, 1, s.ByMethod[attendance.MethodNone])
	assert.Equal(t, 2, s.ByIntent[attendance.IntentWillAttend])
	assert.Equal(t, map[string]int{"MAINTAINED": 1, "DEMOTED": 1, Unresolved: 1}, s.ByApproval)
}
