package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecording_Downloadable(t *testing.T) {
	var nilRec *Recording
	assert.False(t, nilRec.Downloadable())
	assert.False(t, (&Recording{Status: RecordingStatusProcessing, FileURL: "k"}).Downloadable())
	assert.False(t, (&Recording{Status: RecordingStatusReady}).Downloadable())
	assert.False(t, (&Recording{Status: RecordingStatusFailed, FileURL: "k"}).Downloadable())
	assert.True(t, (&Recording{Status: RecordingStatusReady, FileURL: "k"}).Downloadable())
}
