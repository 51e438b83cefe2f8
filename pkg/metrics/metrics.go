// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// formpackNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	formpackNamespace = "formpack"

	resultLabelName = "result"
	statusLabelName = "status"

	SuccessLabel = "success"
	FailLabel    = "fail"
	PlainLabel   = "plain_form"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// sizeBuckets 为数据大小的桶划分，单位为字节。
	sizeBuckets = []float64{1024, 10240, 102400, 1048576, 10485760, 104857600, 209715200, 1073741824}

	PackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Name:      "pack_total",
			Help:      "number of pack calls",
		}, []string{resultLabelName})

	PackPartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Name:      "pack_parts_total",
			Help:      "number of binary parts produced by pack",
		})

	UnpackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Name:      "unpack_total",
			Help:      "number of unpack calls",
		}, []string{resultLabelName})

	UnpackPartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Name:      "unpack_parts_total",
			Help:      "number of binary parts received by unpack",
		})

	UnpackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: formpackNamespace,
			Name:      "unpack_duration_ms",
			Help:      "latency of unpack in milliseconds",
			Buckets:   buckets,
		}, []string{resultLabelName})

	ReceivedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Name:      "received_bytes_total",
			Help:      "bytes of file content staged by the form parser",
		})

	ReceivedFileSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: formpackNamespace,
			Name:      "received_file_size_bytes",
			Help:      "size distribution of staged files",
			Buckets:   sizeBuckets,
		})

	MapFilesDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: formpackNamespace,
			Name:      "mapfiles_duration_ms",
			Help:      "latency of the mapping phase in milliseconds",
			Buckets:   buckets,
		})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: formpackNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "number of requests served by the formpack handler",
		}, []string{statusLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(PackTotal)
		r.MustRegister(PackPartsTotal)
		r.MustRegister(UnpackTotal)
		r.MustRegister(UnpackPartsTotal)
		r.MustRegister(UnpackDuration)
		r.MustRegister(ReceivedBytesTotal)
		r.MustRegister(ReceivedFileSize)
		r.MustRegister(MapFilesDuration)
		r.MustRegister(HTTPRequestsTotal)
		metricRegisterer = r
	})
}
