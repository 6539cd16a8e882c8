package transport

import "errors"

var (
	errTimeout       = errors.New("transport: timeout")
	errNoRoute       = errors.New("transport: no route to node")
	errAlreadyLinked = errors.New("transport: already linked to that node")
	errPortalMisuse  = errors.New("transport: portal used out of order")
	errPortalNotAllowed = errors.New("transport: peer has not allowed this portal yet")
	errShortTransfer = errors.New("transport: short transfer")
	errClosed        = errors.New("transport: handle closed")
)
