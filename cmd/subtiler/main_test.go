package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/subtiler"
	"github.com/paulmach/orb"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

const (
	testIndexPath = "../../testdata/index.json"
	browseName    = "OPERA_L3_DSWx-HLS_T01WCU_20210827T002611Z_20220105T185022Z_L8_30_v2.0_BROWSE.tif"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestApplyEnv(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		fs.String("index", "", "")
		fs.Int("numblocks", 500, "")
		fs.String("other", "", "")
		return fs
	}
	t.Setenv(envIndex, "/env/index.json")
	t.Setenv(envGCSNumBlocks, "12")

	fs := newFlags()
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, applyEnv(fs))
	v, _ := fs.GetString("index")
	assert.Equal(t, "/env/index.json", v)
	n, _ := fs.GetInt("numblocks")
	assert.Equal(t, 12, n)

	fs = newFlags()
	require.NoError(t, fs.Parse([]string{"--index", "/cli/index.json"}))
	require.NoError(t, applyEnv(fs))
	v, _ = fs.GetString("index")
	assert.Equal(t, "/cli/index.json", v)

	t.Setenv(envGCSNumBlocks, "many")
	fs = newFlags()
	require.NoError(t, fs.Parse(nil))
	err := applyEnv(fs)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), envGCSNumBlocks)
	}
}

func TestBuildIndex(t *testing.T) {
	f, err := os.Open("../../testdata/subtiles.csv")
	require.NoError(t, err)
	defer f.Close()
	idx, err := buildIndex(f, "MGRS", "GIBS")
	require.NoError(t, err)
	assert.Equal(t, []string{"01WCU", "48SUE"}, idx.Keys())
	sts, err := idx.Lookup("T01WCU")
	require.NoError(t, err)
	require.Len(t, sts, 2)
	assert.Equal(t, "318143", sts[0].GID)
	assert.Equal(t, "318144", sts[1].GID)

	// built index matches the reference document
	ref, err := subtiler.LoadIndexFile(testIndexPath)
	require.NoError(t, err)
	for _, k := range ref.Keys() {
		want, _ := ref.Lookup(subtiler.GridCode(k))
		got, err := idx.Lookup(subtiler.GridCode(k))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	testfunc := func(csv string, msg string) {
		t.Helper()
		_, err := buildIndex(strings.NewReader(csv), "MGRS", "GIBS")
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), msg)
		}
	}
	testfunc("mgrs,gid,minlon,minlat,maxlon,maxlat\n", "no rows")
	testfunc("T01WCU,1,a,0,1,1\n", "line 1")
	testfunc("T01WCU,1,0,0,1\n", "wrong number of fields")
	testfunc("T01WCU,1,1,0,0,1\n", "degenerate")
}

func TestIndexBuildCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "index.json")
	_, err := runRoot(t, "index", "build", "../../testdata/subtiles.csv", "-o", out)
	require.NoError(t, err)
	idx, err := subtiler.LoadIndexFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, "GIBS", idx.DestinationGrid)
}

func TestIndexLookupCommand(t *testing.T) {
	out, err := runRoot(t, "--index", testIndexPath, "index", "lookup", "T48SUE")
	require.NoError(t, err)
	assert.Equal(t, "T48SUE\t167131\t101.9531250000\t35.8593750000\t102.0234375000\t35.9296875000\n", out)

	_, err = runRoot(t, "--index", testIndexPath, "index", "lookup", "T99XXX")
	var unk *subtiler.ErrUnknownGridCell
	assert.ErrorAs(t, err, &unk)
}

func TestGridCode(t *testing.T) {
	code, err := gridCode("../../testdata/granule_attribute.json")
	require.NoError(t, err)
	assert.Equal(t, subtiler.GridCode("T01WCU"), code)

	code, err = gridCode("OPERA_L3_DSWx-HLS_T48SUE_20190302T034350Z_20230131T222341Z_L8_30_v0.0")
	require.NoError(t, err)
	assert.Equal(t, subtiler.GridCode("T48SUE"), code)

	_, err = gridCode("missing.json")
	assert.Error(t, err)

	out, err := runRoot(t, "gridcode", browseName)
	require.NoError(t, err)
	assert.Equal(t, "T01WCU\n", out)
}

func TestSplitSource(t *testing.T) {
	src, code, err := splitSource("gs://bucket/a=b/image.tif=T48SUE")
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/a=b/image.tif", src)
	assert.Equal(t, subtiler.GridCode("T48SUE"), code)

	src, code, err = splitSource("/data/" + browseName)
	require.NoError(t, err)
	assert.Equal(t, "/data/"+browseName, src)
	assert.Equal(t, subtiler.GridCode("T01WCU"), code)

	_, _, err = splitSource("/data/image.tif")
	assert.ErrorIs(t, err, subtiler.ErrGridCodeNotFound)
}

func TestBuildWorkflow(t *testing.T) {
	cfg := workflowConfig{
		transformConfig: transformConfig{
			workDir: "/work",
			copts:   []string{"BLOCKXSIZE=512"},
			verify:  true,
		},
		index:   "/idx/index.json",
		image:   "subtiler:test",
		retries: 2,
		jobID:   "job",
	}
	wf, err := buildWorkflow(cfg, []string{"gs://bucket/" + browseName, "/data/image.tif=T48SUE"})
	require.NoError(t, err)
	assert.Equal(t, "job", wf.Labels["subtiler/job"])
	assert.Equal(t, "subtiler", wf.Spec.Entrypoint)
	require.NotNil(t, wf.Spec.TemplateDefaults.Volumes[0].EmptyDir)
	require.Len(t, wf.Spec.Templates, 1)
	require.Len(t, wf.Spec.Templates[0].Steps, 1)
	steps := wf.Spec.Templates[0].Steps[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, "source-0", steps[0].Name)
	assert.Equal(t, []string{"subtiler", "transform", "--json",
		"--index", "/idx/index.json", "--workdir", "/work", "--grid-code", "T01WCU",
		"--co", "BLOCKXSIZE=512", "--verify", "gs://bucket/" + browseName},
		steps[0].Inline.Container.Command)
	assert.Equal(t, "subtiler:test", steps[1].Inline.Container.Image)
	assert.Contains(t, steps[1].Inline.Container.Command, "T48SUE")
	assert.Equal(t, "/data/image.tif", steps[1].Inline.Container.Command[len(steps[1].Inline.Container.Command)-1])
	require.NotNil(t, steps[1].Inline.RetryStrategy)
	assert.Equal(t, 2, steps[1].Inline.RetryStrategy.Limit.IntValue())

	yb, err := yaml.Marshal(wf)
	require.NoError(t, err)
	assert.Contains(t, string(yb), "kind: Workflow")

	cfg.pvc = "claim"
	cfg.jobID = ""
	wf, err = buildWorkflow(cfg, []string{"/data/image.tif=T48SUE"})
	require.NoError(t, err)
	assert.Equal(t, "claim", wf.Spec.TemplateDefaults.Volumes[0].PersistentVolumeClaim.ClaimName)
	assert.NotEmpty(t, wf.Labels["subtiler/job"])

	_, err = buildWorkflow(workflowConfig{transformConfig: cfg.transformConfig}, []string{"/data/image.tif=T48SUE"})
	assert.Error(t, err)
	bad := cfg
	bad.switches = "-tr 1 1"
	_, err = buildWorkflow(bad, []string{"/data/image.tif=T48SUE"})
	assert.Error(t, err)
	_, err = buildWorkflow(cfg, []string{"/data/image.tif"})
	assert.Error(t, err)
	_, err = buildWorkflow(cfg, []string{"/a/image.tif=T48SUE", "/b/image.tif=T48SUE"})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "/b/image.tif")
	}
}

func TestWriteOutputs(t *testing.T) {
	st := subtiler.Subtile{GID: "318143", Bounds: orb.Bound{Min: orb.Point{-180, 63.28125}, Max: orb.Point{-179.9296875, 63.3515625}}}
	results := []subtiler.Result{
		nil,
		{{Path: "/w/b/318143/b.tif", Subtile: st}},
	}
	buf := bytes.Buffer{}
	require.NoError(t, writeOutputs(&buf, []string{"a.tif", "b.tif"}, results))
	assert.Equal(t, `{"source":"b.tif","gid":"318143","path":"/w/b/318143/b.tif","bounds":[-180,63.28125,-179.9296875,63.3515625]}`+"\n", buf.String())
}

func writeSource(t *testing.T, path string) {
	t.Helper()
	const px = 0.001
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Byte, 200, 200)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform([6]float64{-180, px, 0, 63.4, 0, -px}))
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	require.NoError(t, err)
	defer sr.Close()
	require.NoError(t, ds.SetSpatialRef(sr))
	buf := make([]byte, 200*200)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	require.NoError(t, ds.Bands()[0].Write(0, 0, buf, 200, 200))
	require.NoError(t, ds.Close())
}

func TestTransformCommand(t *testing.T) {
	godal.RegisterAll()
	tmp := t.TempDir()
	src := filepath.Join(tmp, browseName)
	writeSource(t, src)
	work := filepath.Join(tmp, "work")

	out, err := runRoot(t, "--index", testIndexPath, "transform", "--workdir", work, "--verify", "--parallelism", "2", src)
	require.NoError(t, err)
	dec := json.NewDecoder(strings.NewReader(out))
	lines := []outputLine{}
	for dec.More() {
		l := outputLine{}
		require.NoError(t, dec.Decode(&l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "318143", lines[0].GID)
	assert.Equal(t, "318144", lines[1].GID)
	assert.Equal(t, src, lines[0].Source)

	out, err = runRoot(t, "verify", lines[0].Path, lines[1].Path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "OK "))

	out, err = runRoot(t, "verify", lines[0].Path, src)
	assert.Error(t, err)
	assert.Contains(t, out, "FAIL")

	_, err = runRoot(t, "--index", testIndexPath, "transform", "--workdir", work, "--grid-code", "T99XXX", src)
	var unk *subtiler.ErrUnknownGridCell
	assert.ErrorAs(t, err, &unk)

	_, err = runRoot(t, "--index", testIndexPath, "transform", src)
	assert.Error(t, err)

	// same stem from two locations
	fresh := filepath.Join(tmp, "fresh")
	other := "gs://bucket/" + strings.TrimSuffix(browseName, ".tif") + ".TIF"
	_, err = runRoot(t, "--index", testIndexPath, "transform", "--workdir", fresh, "--parallelism", "2", src, other)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), src)
		assert.Contains(t, err.Error(), other)
	}
	_, err = os.Stat(fresh)
	assert.True(t, os.IsNotExist(err))
}

func TestCheckStems(t *testing.T) {
	assert.NoError(t, checkStems([]string{"a/x.tif", "a/y.tif", "x.png.tif"}))
	testfunc := func(sources ...string) {
		t.Helper()
		err := checkStems(sources)
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), sources[len(sources)-1])
		}
	}
	testfunc("a/x.tif", "b/x.tif")
	testfunc("a/x.tif", "gs://bucket/x.tiff")
	testfunc("a/x.tif", "a/y.tif", "a/x.tif")
}

func TestSourceGridCode(t *testing.T) {
	code, err := sourceGridCode(transformConfig{gridCode: " T48SUE "}, "/data/x.tif")
	require.NoError(t, err)
	assert.Equal(t, subtiler.GridCode("T48SUE"), code)

	code, err = sourceGridCode(transformConfig{gridCode: "  "}, "/data/"+browseName)
	require.NoError(t, err)
	assert.Equal(t, subtiler.GridCode("T01WCU"), code)
}
