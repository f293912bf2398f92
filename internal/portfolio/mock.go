// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed fixtures/*.json
var fixtures embed.FS

const (
	detailsFixture = "portfolio_details.json"
	ordersFixture  = "orders.json"
)

// Mock 基于夹具的确定性数据源，每次返回深拷贝
type Mock struct {
	details *Details
	orders  *Orders
}

// NewMock 使用内置夹具
func NewMock() (*Mock, error) {
	return loadMock(func(name string) ([]byte, error) {
		return fixtures.ReadFile("fixtures/" + name)
	})
}

// NewMockFromDir 从目录加载 portfolio_details.json 与 orders.json
func NewMockFromDir(dir string) (*Mock, error) {
	return loadMock(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	})
}

// NewMockWith 直接使用给定数据（nil 视为空组合）
func NewMockWith(details *Details, orders *Orders) *Mock {
	if details == nil {
		details = &Details{Holdings: map[string]Holding{}}
	}
	if orders == nil {
		orders = &Orders{}
	}
	return &Mock{details: details, orders: orders}
}

// EmptyMock 没有任何持仓与交易的组合
func EmptyMock() *Mock {
	return NewMockWith(nil, nil)
}

func loadMock(read func(name string) ([]byte, error)) (*Mock, error) {
	var details Details
	if err := readFixture(read, detailsFixture, &details); err != nil {
		return nil, err
	}
	var orders Orders
	if err := readFixture(read, ordersFixture, &orders); err != nil {
		return nil, err
	}
	return NewMockWith(&details, &orders), nil
}

func readFixture(read func(name string) ([]byte, error), name string, out any) error {
	raw, err := read(name)
	if err != nil {
		return fmt.Errorf("读取夹具 %s 失败: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("解析夹具 %s 失败: %w", name, err)
	}
	return nil
}

// Details 实现 Source
func (m *Mock) Details(ctx context.Context) (*Details, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Details{
		Holdings:  make(map[string]Holding, len(m.details.Holdings)),
		HasErrors: m.details.HasErrors,
	}
	for k, v := range m.details.Holdings {
		out.Holdings[k] = v
	}
	if m.details.Summary != nil {
		s := *m.details.Summary
		out.Summary = &s
	}
	return out, nil
}

// Orders 实现 Source
func (m *Mock) Orders(ctx context.Context, dateRange string) (*Orders, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dateRange != "" && !ValidDateRange(dateRange) {
		return nil, &Error{Code: CodeInvalidTimePeriod, Detail: "unsupported range: " + dateRange}
	}
	out := &Orders{Count: m.orders.Count, Activities: make([]Activity, len(m.orders.Activities))}
	copy(out.Activities, m.orders.Activities)
	return out, nil
}
