package controller

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestControllerStateString(t *testing.T) {
	cases := map[controllerState]string{
		stateInit:            "INIT",
		stateValidate:        "VALIDATE",
		stateCreateShadow:    "CREATE_SHADOW",
		stateInstallTriggers: "INSTALL_TRIGGERS",
		stateCopy:            "COPY",
		stateReplayCatchup:   "REPLAY_CATCHUP",
		stateCutover:         "CUTOVER",
		stateCleanup:         "CLEANUP",
		stateDone:            "DONE",
		stateCleanupFailed:   "CLEANUP_FAILED",
		controllerState(99):  "UNKNOWN",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestControllerGetSetState(t *testing.T) {
	c := &Controller{logger: logrus.New()}
	assert.Equal(t, stateInit, c.getState())

	c.setState(stateValidate)
	assert.Equal(t, stateValidate, c.getState())

	c.setState(stateDone)
	assert.Equal(t, stateDone, c.getState())
}
