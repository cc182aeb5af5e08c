package kube

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	// imagePullSecretName holds the registry credential installed during
	// provisioning.
	imagePullSecretName = "ghcr-auth"

	migrateBackoffLimit = int32(3)
	migrateTTLSeconds   = int32(300)
)

// MigrationJob builds the one-shot migration Job manifest for a release. The
// job pulls env from the namespace secret object and is garbage-collected
// shortly after it finishes.
func MigrationJob(namespace, image string) (string, error) {
	if err := validateNames(namespace); err != nil {
		return "", err
	}
	if !imageRE.MatchString(image) {
		return "", fmt.Errorf("invalid image reference %q", image)
	}

	backoff := migrateBackoffLimit
	ttl := migrateTTLSeconds

	job := batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: "migrate",
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyOnFailure,
					ImagePullSecrets: []corev1.LocalObjectReference{
						{Name: imagePullSecretName},
					},
					Containers: []corev1.Container{
						{
							Name:  "migrate",
							Image: image,
							EnvFrom: []corev1.EnvFromSource{
								{
									SecretRef: &corev1.SecretEnvSource{
										LocalObjectReference: corev1.LocalObjectReference{
											Name: namespace + "-secrets",
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	out, err := yaml.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal migration job: %w", err)
	}
	return string(out), nil
}
