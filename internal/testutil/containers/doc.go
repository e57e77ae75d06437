// Package containers starts Docker containers for integration tests using
// testcontainers-go:
//
//   - MySQL 8.0, backing the SQL cache and subscription repositories
//   - Redis, backing the redis cache namespace store
//   - Eclipse Mosquitto, the broker for the MQTT lifecycle bus
//   - ntfy, a shoutrrr target for broadcast reports
//
// Containers are usually started once per package in TestMain:
//
//	var mysqlContainer *containers.MySQLContainer
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    _ = mysqlContainer.Terminate(ctx)
//	    os.Exit(code)
//	}
//
// Tests using this package carry the "integration" build tag:
//
//	//go:build integration
//
// Container reuse speeds up local iterations:
//
//	export TESTCONTAINERS_REUSE=true
//	go test -tags=integration ./...
//
// Reused containers must be removed by hand:
//
//	docker ps -a --filter "label=org.testcontainers.reuse=true" -q | xargs docker rm -f
package containers
