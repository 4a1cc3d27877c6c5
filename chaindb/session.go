package chaindb

import (
	log "github.com/sirupsen/logrus"
)

// Undoable is an undo stack which is kept in lock step with the controller
// by a Session.
type Undoable interface {
	Revision() Revision
	StartUndoSession() error
	Undo() error
	Squash() error
}

// Session is a nested scope of changes at one revision. Exactly one of Push,
// Squash or Undo finishes the session; Close undoes the session unless it has
// already been finished, so
//
//	s, err := ctrl.MakeSession()
//	...
//	defer s.Close()
//
// reverts every change on an early return.
type Session struct {
	ctrl       *Controller
	companions []Undoable
	revision   Revision
	apply      bool
}

// MakeSession starts a new revision in the controller and in each companion.
func (ctrl *Controller) MakeSession(companions ...Undoable) (*Session, error) {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	if err := ctrl.check(); err != nil {
		return nil, err
	}
	for _, c := range companions {
		if c.Revision() != ctrl.undo.revision {
			return nil, corruptState("companion at revision %d; controller at revision %d",
				c.Revision(), ctrl.undo.revision)
		}
	}

	rev := ctrl.undo.startSession()
	for _, c := range companions {
		err := c.StartUndoSession()
		if err != nil {
			return nil, ctrl.fatal(corruptState("companion: %s", err))
		}
		if c.Revision() != rev {
			return nil, ctrl.fatal(corruptState("companion at revision %d; session at revision %d",
				c.Revision(), rev))
		}
	}

	sessionOps.WithLabelValues("start").Inc()
	log.WithField("revision", rev).Debug("session started")
	return &Session{
		ctrl:       ctrl,
		companions: companions,
		revision:   rev,
		apply:      true,
	}, nil
}

// MakeNoOpSession returns a session which does nothing.
func (ctrl *Controller) MakeNoOpSession() *Session {
	ctrl.mutex.Lock()
	defer ctrl.mutex.Unlock()

	return &Session{
		revision: ctrl.undo.revision,
	}
}

func (s *Session) Revision() Revision {
	return s.revision
}

// Push keeps the changes of the session; they become part of the enclosing
// session. Pushing the outermost session commits its revision.
func (s *Session) Push() error {
	if !s.apply {
		return nil
	}
	s.apply = false
	sessionOps.WithLabelValues("push").Inc()

	return s.ctrl.push(s.revision)
}

// Squash merges the session into the enclosing session.
func (s *Session) Squash() error {
	if !s.apply {
		return nil
	}
	s.apply = false
	sessionOps.WithLabelValues("squash").Inc()

	err := s.ctrl.squash(s.revision)
	if err != nil {
		return err
	}
	for _, c := range s.companions {
		err = c.Squash()
		if err != nil {
			return s.ctrl.lockedFatal(corruptState("companion: %s", err))
		}
	}
	return s.checkCompanions()
}

// Undo reverts every change of the session.
func (s *Session) Undo() error {
	if !s.apply {
		return nil
	}
	s.apply = false
	sessionOps.WithLabelValues("undo").Inc()

	err := s.ctrl.undoRevision(s.revision)
	if err != nil {
		return err
	}
	for _, c := range s.companions {
		err = c.Undo()
		if err != nil {
			return s.ctrl.lockedFatal(corruptState("companion: %s", err))
		}
	}
	return s.checkCompanions()
}

func (s *Session) checkCompanions() error {
	rev := s.ctrl.Revision()
	for _, c := range s.companions {
		if c.Revision() != rev {
			return s.ctrl.lockedFatal(corruptState("companion at revision %d; controller at revision %d",
				c.Revision(), rev))
		}
	}
	return nil
}

// Close undoes the session unless Push, Squash or Undo was called.
func (s *Session) Close() error {
	return s.Undo()
}
