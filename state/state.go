package state

import (
	"fmt"
	"sync"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = fmt.Errorf("%w: state transition not allowed", errs.ErrValidation)

// Machine 描述一组允许的状态转换。状态本身保存在数据库中，
// Machine 只负责判断 from -> to 是否合法。
type Machine[S ~string] struct {
	name        string
	transitions map[S]map[S]func() bool // fromState -> toState -> condition
	mutex       sync.RWMutex
}

func NewMachine[S ~string](name string) *Machine[S] {
	return &Machine[S]{
		name:        name,
		transitions: make(map[S]map[S]func() bool),
	}
}

// AddTransition 注册一个转换，condition 为 nil 表示无条件允许
func (m *Machine[S]) AddTransition(from, to S, condition func() bool) *Machine[S] {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[S]func() bool)
	}
	m.transitions[from][to] = condition
	return m
}

// CanTransition 检查转换是否已注册且条件满足
func (m *Machine[S]) CanTransition(from, to S) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	conditions, exists := m.transitions[from]
	if !exists {
		return false
	}
	condition, exists := conditions[to]
	if !exists {
		return false
	}
	return condition == nil || condition()
}

// Validate returns ErrTransitionNotAllowed wrapped with the machine name.
func (m *Machine[S]) Validate(from, to S) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%s %s -> %s: %w", m.name, from, to, ErrTransitionNotAllowed)
	}
	return nil
}

// Next 返回唯一的后继状态；终态或多分支时返回 false
func (m *Machine[S]) Next(from S) (S, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var next S
	conditions := m.transitions[from]
	if len(conditions) != 1 {
		return next, false
	}
	for to := range conditions {
		next = to
	}
	return next, true
}

// Terminal reports whether no transition leaves s.
func (m *Machine[S]) Terminal(s S) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.transitions[s]) == 0
}

// RoomPhases 房间阶段：lobby -> picking -> playing -> finished，不允许回退
var RoomPhases = NewMachine[models.Phase]("room phase").
	AddTransition(models.PhaseLobby, models.PhasePicking, nil).
	AddTransition(models.PhasePicking, models.PhasePlaying, nil).
	AddTransition(models.PhasePlaying, models.PhaseFinished, nil)

// RoundStatuses 回合状态：collecting -> voting -> done
var RoundStatuses = NewMachine[models.RoundStatus]("round status").
	AddTransition(models.RoundCollecting, models.RoundVoting, nil).
	AddTransition(models.RoundVoting, models.RoundDone, nil)
