// Command stagecoach runs experiment sessions through the acquisition
// pipeline and audits previous runs. Exit codes: 0 success, 1 validation or
// configuration failure, 2 task failure, 3 partial transfer, 130 operator
// abort.
package main
