package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := New("debug", "json")
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = New("loud", "")
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
