package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockExecutor mocks the ConstructionExecutor interface
type MockExecutor struct {
	mock.Mock
	Factory common.Address
}

// FactoryAddress returns the configured factory address
func (m *MockExecutor) FactoryAddress() common.Address {
	return m.Factory
}

// Construct mocks the Construct method
func (m *MockExecutor) Construct(ctx context.Context, req interfaces.ConstructionRequest) (interfaces.Instance, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.Instance), args.Error(1)
}

// MockInstance mocks the Instance interface
type MockInstance struct {
	mock.Mock
	Addr common.Address
}

// Address returns the configured address
func (m *MockInstance) Address() common.Address {
	return m.Addr
}

// ReportedIdentity mocks the ReportedIdentity method
func (m *MockInstance) ReportedIdentity(ctx context.Context) (common.Address, error) {
	args := m.Called(ctx)
	return args.Get(0).(common.Address), args.Error(1)
}

// MockJournal mocks the DeploymentJournal interface
type MockJournal struct {
	mock.Mock
}

// Append mocks the Append method
func (m *MockJournal) Append(ctx context.Context, record interfaces.DeploymentRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// Load mocks the Load method
func (m *MockJournal) Load(ctx context.Context) ([]interfaces.DeploymentRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.DeploymentRecord), args.Error(1)
}
