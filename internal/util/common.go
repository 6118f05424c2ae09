package util

import "github.com/sirupsen/logrus"

// ContinueOrFatal aborts the process on a startup error. Only for use in
// bootstrap wiring, never on a request path.
func ContinueOrFatal(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}
