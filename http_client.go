package main

import (
	"net/http"
	"time"
)

const externalHTTPTimeout = 120 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: externalHTTPTimeout,
}
