//go:build !unix

package wsline

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
