package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanObjectName(t *testing.T) {
	assert.Equal(t, "scans/abc/original.png", ScanObjectName("abc", "brain.PNG", "image/png"))
	assert.Equal(t, "scans/abc/original.jpg", ScanObjectName("abc", "brain.jpeg", "image/jpeg"))
	assert.Equal(t, "scans/abc/original.bin", ScanObjectName("abc", "../../etc/brain.bin", ""))
	assert.Equal(t, "scans/abc/original", ScanObjectName("abc", "", ""))
}

func TestReportObjectName(t *testing.T) {
	assert.Equal(t, "reports/abc/Alzheimer_Report.pdf", ReportObjectName("abc"))
}
