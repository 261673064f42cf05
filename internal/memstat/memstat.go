// Package memstat reports the process's resident memory, logged at fixed
// intervals so operators can watch a long ingestion run.
package memstat

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Log writes the current RSS of this process as a structured line. Failures
// to read process stats are silently ignored; memory reporting must never
// disturb the run.
func Log(log *logrus.Entry) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return
	}
	log.WithField("rss_mb", float64(info.RSS)/(1024*1024)).Info("memory usage")
}
