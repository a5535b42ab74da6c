package server

import (
	"fmt"
	"log"
	"os"
)

const starterGatewayConfig = `endpoint: /graphql
service_name: federation-gateway
port: 8081
timeout_duration: 5s
enable_hang_over_request_header: true

services: []
  # - name: products
  #   host: http://localhost:4001
  #   schema_files:
  #     - products.graphql

authorization:
  enable: false
  mode: nullify

opentelemetry:
  tracing:
    enable: false
`

// Init scaffolds a starter gateway.yaml in the current directory so a new
// project has something to edit rather than reading the config surface
// reference documentation cold.
func Init() {
	if _, err := os.Stat("gateway.yaml"); err == nil {
		log.Fatal("gateway.yaml already exists in this directory")
	}

	if err := os.WriteFile("gateway.yaml", []byte(starterGatewayConfig), 0o644); err != nil {
		log.Fatalf("failed to write gateway.yaml: %v", err)
	}

	fmt.Println("wrote gateway.yaml")
}
