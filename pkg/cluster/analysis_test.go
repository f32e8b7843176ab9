package cluster

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validParams(dir string) CollectionParams {
	return CollectionParams{
		Directory:    dir,
		Prefix:       "lyso",
		RunNumber:    3,
		FirstImage:   1,
		NumImages:    1800,
		Exposure:     0.02,
		Wavelength:   0.9793,
		Resolution:   1.8,
		Transmission: 50,
	}
}

func TestCollectionParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CollectionParams)
		ok     bool
	}{
		{"valid", func(p *CollectionParams) {}, true},
		{"no directory", func(p *CollectionParams) { p.Directory = "" }, false},
		{"no prefix", func(p *CollectionParams) { p.Prefix = "" }, false},
		{"zero images", func(p *CollectionParams) { p.NumImages = 0 }, false},
		{"bad wavelength", func(p *CollectionParams) { p.Wavelength = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams("/data/visitor/mx1234")
			tt.mutate(&p)

			err := p.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBuildSpec(t *testing.T) {
	dir := t.TempDir()
	a := NewAnalysis(nil, testLogger())

	spec, err := a.buildSpec(validParams(dir), "autoproc", "run_autoproc.py", FlavorAutoproc)
	require.NoError(t, err)

	assert.Equal(t, "autoproc", spec.Plugin)
	assert.Equal(t, "run_autoproc.py", spec.Script)
	assert.Equal(t, filepath.Join(dir, "process", "autoproc"), spec.OutputDir)
	assert.Equal(t, "autoproc_result.yaml", spec.ResultFile)
	assert.Equal(t, "lyso", spec.Params["prefix"])
	assert.Equal(t, "3", spec.Params["run"])

	// The input file is written next to the collection and round-trips
	data, err := os.ReadFile(spec.InputFile)
	require.NoError(t, err)

	var p CollectionParams
	require.NoError(t, yaml.Unmarshal(data, &p))
	assert.Equal(t, "lyso", p.Prefix)
	assert.Equal(t, 1800, p.NumImages)
}

func TestBuildSpecInvalidParams(t *testing.T) {
	a := NewAnalysis(nil, testLogger())

	_, err := a.buildSpec(CollectionParams{}, "autoproc", "run_autoproc.py", FlavorAutoproc)
	assert.Error(t, err)
}

func TestAnalysisRun(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"PENDING", "RUNNING", "COMPLETED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)
	a := NewAnalysis(c, testLogger())

	dir := t.TempDir()
	job, err := a.Characterise(context.Background(), validParams(dir))
	require.NoError(t, err)
	assert.Equal(t, FlavorCharacterisation, job.Flavor)
	assert.Equal(t, "strategy", job.Spec.Plugin)

	// The worker side: create the result before the job completes
	require.NoError(t, os.MkdirAll(job.Spec.OutputDir, 0755))
	require.NoError(t, os.WriteFile(job.ResultPath, []byte("strategy: ok"), 0644))

	path, err := a.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ResultPath, path)
}

func TestAnalysisRunFailedJob(t *testing.T) {
	fake := &fakeScheduler{sequence: []string{"RUNNING", "FAILED"}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := newTestCluster(t, srv.URL)
	a := NewAnalysis(c, testLogger())

	job, err := a.Autoprocess(context.Background(), validParams(t.TempDir()))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
}
