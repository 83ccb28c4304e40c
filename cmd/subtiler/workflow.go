package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/subtiler"
	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	k8sv1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	k8smeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"
)

var defaultImage string = "build-error-this-variable-should-have-been-set-on-build"

type workflowConfig struct {
	transformConfig
	index   string
	image   string
	pvc     string
	retries int
	jobID   string
}

func newWorkflowCommand() *cobra.Command {
	cfg := workflowConfig{}
	cmd := &cobra.Command{
		Use:   "workflow [flags] source.tif[=GRIDCODE]...",
		Short: "print an argo workflow transforming each source in its own pod",
		Long: "print an argo workflow transforming each source in its own pod. Grid codes not\n" +
			"given after '=' are extracted from the source file names. --index and --pod-workdir\n" +
			"are paths inside the worker containers.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.index = indexPath
			wf, err := buildWorkflow(cfg, args)
			if err != nil {
				return err
			}
			yb, err := yaml.Marshal(wf)
			if err != nil {
				return fmt.Errorf("marshal workflow: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(yb)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.image, "image", defaultImage, "docker image for workers [$"+envDockerImage+"]")
	flags.StringVar(&cfg.workDir, "pod-workdir", "/work", "working directory inside workers")
	flags.StringVar(&cfg.pvc, "pvc", "", "persistent volume claim mounted on --pod-workdir (default: an emptyDir)")
	flags.IntVar(&cfg.retries, "retries", 0, "argo retry limit for each source")
	flags.StringVar(&cfg.jobID, "jobID", "", "(advanced) use predefined job identifier")
	flags.StringArrayVar(&cfg.copts, "co", nil, "additional tif creation options")
	flags.StringArrayVar(&cfg.configOpts, "config", nil, "gdal configuration options")
	flags.StringVar(&cfg.switches, "switches", "", "additional gdalwarp switches")
	flags.BoolVar(&cfg.verify, "verify", false, "check the layout of each produced sub-tile")
	return cmd
}

func int32Ptr(val int32) *int32 {
	a := val
	return &a
}

func intOrStringPtr(val int) *intstr.IntOrString {
	a := intstr.FromInt(val)
	return &a
}

func splitSource(arg string) (string, subtiler.GridCode, error) {
	if i := strings.LastIndex(arg, "="); i > 0 {
		return arg[:i], subtiler.GridCode(arg[i+1:]), nil
	}
	code, err := subtiler.GridCodeFromName(filepath.Base(arg))
	if err != nil {
		return "", "", err
	}
	return arg, code, nil
}

func buildWorkflow(cfg workflowConfig, sources []string) (*wfv1.Workflow, error) {
	if cfg.index == "" {
		return nil, fmt.Errorf("no intersection index given, use --index or $%s", envIndex)
	}
	// fail here rather than in every pod
	if _, err := newWarper(cfg.transformConfig); err != nil {
		return nil, err
	}
	if cfg.jobID == "" {
		cfg.jobID = uuid.New().String()
	}

	volume := k8sv1.Volume{Name: "work"}
	if cfg.pvc != "" {
		volume.VolumeSource.PersistentVolumeClaim = &k8sv1.PersistentVolumeClaimVolumeSource{ClaimName: cfg.pvc}
	} else {
		volume.VolumeSource.EmptyDir = &k8sv1.EmptyDirVolumeSource{}
	}

	wf := &wfv1.Workflow{
		ObjectMeta: k8smeta.ObjectMeta{
			GenerateName: "subtiler-",
			Labels:       map[string]string{"subtiler/job": cfg.jobID},
		},
		TypeMeta: k8smeta.TypeMeta{
			APIVersion: "argoproj.io/v1alpha1",
			Kind:       "Workflow",
		},
		Spec: wfv1.WorkflowSpec{
			TTLStrategy: &wfv1.TTLStrategy{
				SecondsAfterSuccess: int32Ptr(3600),
			},
			Entrypoint: "subtiler",
			TemplateDefaults: &wfv1.Template{
				Volumes: []k8sv1.Volume{volume},
				Container: &k8sv1.Container{
					ImagePullPolicy: k8sv1.PullAlways,
					Resources: k8sv1.ResourceRequirements{
						Requests: k8sv1.ResourceList{
							k8sv1.ResourceCPU:    resource.MustParse("1"),
							k8sv1.ResourceMemory: resource.MustParse("2G"),
						},
					},
					WorkingDir: cfg.workDir,
					VolumeMounts: []k8sv1.VolumeMount{
						{
							Name:      "work",
							MountPath: cfg.workDir,
						},
					},
				},
			},
			Templates: []wfv1.Template{
				{Name: "subtiler"},
			},
		},
	}

	srcs := make([]string, len(sources))
	codes := make([]subtiler.GridCode, len(sources))
	for s, arg := range sources {
		var err error
		if srcs[s], codes[s], err = splitSource(arg); err != nil {
			return nil, err
		}
	}
	if err := checkStems(srcs); err != nil {
		return nil, err
	}

	ps := wfv1.ParallelSteps{}
	for s := range sources {
		src, code := srcs[s], codes[s]
		command := []string{"subtiler", "transform", "--json",
			"--index", cfg.index,
			"--workdir", cfg.workDir,
			"--grid-code", string(code)}
		for _, co := range cfg.copts {
			command = append(command, "--co", co)
		}
		for _, co := range cfg.configOpts {
			command = append(command, "--config", co)
		}
		if cfg.switches != "" {
			command = append(command, "--switches", cfg.switches)
		}
		if cfg.verify {
			command = append(command, "--verify")
		}
		command = append(command, src)
		tmpl := &wfv1.Template{
			Container: &k8sv1.Container{
				Name:    "transform",
				Image:   cfg.image,
				Command: command,
			},
		}
		if cfg.retries > 0 {
			tmpl.RetryStrategy = &wfv1.RetryStrategy{
				Limit: intOrStringPtr(cfg.retries),
			}
		}
		ps.Steps = append(ps.Steps, wfv1.WorkflowStep{
			Name:   fmt.Sprintf("source-%d", s),
			Inline: tmpl,
		})
	}
	wf.Spec.Templates[0].Steps = append(wf.Spec.Templates[0].Steps, ps)
	return wf, nil
}
