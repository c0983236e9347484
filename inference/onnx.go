package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

type inferenceRequest struct {
	inputs   [][]float32
	size     int
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policies [][]float32
	values   []float32
	err      error
}

// OnnxClient implements Evaluator on ONNX Runtime. Requests from concurrent
// searches are merged into larger device batches by a single loop goroutine.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig
	closed       chan struct{}
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// One intra-op thread: many searches share the session, contention
	// hurts more than single-op parallelism helps.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			fmt.Println("CUDA provider unavailable, using CPU:", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		closed:       make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

func (c *OnnxClient) Close() error {
	close(c.closed)
	return c.session.Destroy()
}

// Predict submits a sub-batch and blocks until the merged device batch that
// contains it completes.
func (c *OnnxClient) Predict(batch [][]float32, size int) ([][]float32, []float32, error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}
	respChan := make(chan inferenceResponse, 1)
	c.requestsChan <- inferenceRequest{inputs: batch, size: size, respChan: respChan}
	resp := <-respChan
	return resp.policies, resp.values, resp.err
}

func (c *OnnxClient) batchLoop() {
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)
	rows := 0

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) > 0 {
			c.runBatch(requests)
			requests = requests[:0]
			rows = 0
		}
	}

	for {
		select {
		case <-c.closed:
			flush()
			return
		case req := <-c.requestsChan:
			// Sub-batches with mismatched board sizes cannot share a
			// tensor; flush what we have first.
			if rows > 0 && requests[0].size != req.size {
				flush()
			}
			requests = append(requests, req)
			rows += len(req.inputs)
			if rows >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest) {
	size := requests[0].size
	policySize := size * size
	inputLen := size * size * Planes

	rows := 0
	for _, req := range requests {
		rows += len(req.inputs)
	}

	batchInput := make([]float32, 0, rows*inputLen)
	for _, req := range requests {
		for _, in := range req.inputs {
			batchInput = append(batchInput, in...)
		}
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(int64(rows), int64(size), int64(size), Planes), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), int64(policySize)))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), 1))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		c.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	row := 0
	for _, req := range requests {
		policies := make([][]float32, len(req.inputs))
		values := make([]float32, len(req.inputs))
		for i := range req.inputs {
			policy := make([]float32, policySize)
			copy(policy, policyData[row*policySize:(row+1)*policySize])
			policies[i] = policy
			values[i] = valueData[row]
			row++
		}
		req.respChan <- inferenceResponse{policies: policies, values: values}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
