// Package daemonrun is the daemon process entry point shared by the
// stagewrightd binary and "stagewright daemon run".
package daemonrun
