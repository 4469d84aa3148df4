// Package fuuka is the data-source client for FoolFuuka archives. It reads
// threads through the chan API (/_/api/chan/thread/) and exposes them as
// archiver.BoardSession and archiver.Thread values.
package fuuka
