package database

import (
	"sync"
	"testing"

	"github.com/healthbridge/bridge/config"
	"github.com/stretchr/testify/assert"
)

func TestGetDBConnection_ReturnsSingleton(t *testing.T) {
	existing := &Datasource{}
	instance = existing
	once = sync.Once{}
	once.Do(func() {})
	defer func() {
		instance = nil
		once = sync.Once{}
	}()

	ds, err := GetDBConnection(&config.Configuration{})
	assert.NoError(t, err)
	assert.Same(t, existing, ds)
}

func TestConnectDB_InvalidDriverDSN(t *testing.T) {
	if testing.Short() {
		t.Skip("ping retries for several seconds")
	}
	_, err := ConnectDB("postgres://nobody@127.0.0.1:1/bridge?sslmode=disable&connect_timeout=1")
	assert.Error(t, err)
}
