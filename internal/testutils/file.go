package testutils

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func AssertFileExists(t *testing.T, path string) {
	_, err := os.Stat(path)
	assert.NoError(t, err, "file should exist")
}

func AssertFileDoesNotExist(t *testing.T, path string) {
	stat, err := os.Stat(path)
	assert.Error(t, err, "file should not exist")
	assert.Nil(t, stat, "file should not exist")
}

func SetupFakeConfigUpdater(t *testing.T, updates []*TestConfig,
	initialSleep, sleepBetweenEvents time.Duration, binaryStarting <-chan struct{}, configPath string,
) chan struct{} {
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		t.Log("Waiting for the server to start")
		<-binaryStarting
		t.Log("Starting fake config writer")
		time.Sleep(initialSleep)

		for _, update := range updates {
			// ensure it materializes in the same config
			_ = update.WithConfigPath(configPath).Get()
			t.Log("Wrote configuration update")
			time.Sleep(sleepBetweenEvents)
		}
	}()
	return serverDone
}
