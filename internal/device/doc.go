// Package device defines the BLE collaborator contract used by the breathalyzer
// session, together with the connection-state variants and the error taxonomy
// shared by every layer.
//
// This package contains no BLE stack code. Implementations live in
// sub-packages (see internal/device/go-ble) and tests provide their own fakes:
//   - Central: scanning, service/characteristic discovery, reads, notifications, disconnects
//   - ConnectionState: closed set of lifecycle transitions emitted by the session
//   - StageError: stack failures tagged with the stage where they happened
package device
