package provision

import (
	"context"
	"fmt"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"go.uber.org/zap"
)

type IAMAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

type roleDriver struct {
	client IAMAPI
	logger *zap.Logger
}

func (d *roleDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.RoleSpec)

	// resolve inline policies first so a bad reference never leaves a role behind
	inline := make(map[string]string, len(spec.InlinePolicies))
	for _, p := range spec.InlinePolicies {
		doc, err := inlinePolicyDocument(p, resolver)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Name, err)
		}
		inline[p.Name] = doc
	}

	trust := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]any{"Service": spec.AssumedBy},
			Action:    "sts:AssumeRole",
		}},
	}
	out, err := d.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.RoleName),
		AssumeRolePolicyDocument: aws.String(trust.String()),
		Description:              aws.String(fmt.Sprintf("%s assumed by %s", res.Name, spec.AssumedBy)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	if err := d.attach(ctx, spec, inline); err != nil {
		if delErr := d.deleteRole(ctx, spec.RoleName); delErr != nil {
			d.logger.Error("Failed to clean up role", zap.Error(delErr), zap.String("role", spec.RoleName))
		}
		return nil, err
	}

	return map[string]string{
		stack.AttrName: aws.ToString(out.Role.RoleName),
		stack.AttrArn:  aws.ToString(out.Role.Arn),
	}, nil
}

func (d *roleDriver) attach(ctx context.Context, spec *stack.RoleSpec, inline map[string]string) error {
	for _, arn := range spec.ManagedPolicies {
		_, err := d.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(spec.RoleName),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return fmt.Errorf("failed to attach %s: %w", arn, err)
		}
	}
	for _, p := range spec.InlinePolicies {
		_, err := d.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(spec.RoleName),
			PolicyName:     aws.String(p.Name),
			PolicyDocument: aws.String(inline[p.Name]),
		})
		if err != nil {
			return fmt.Errorf("failed to put policy %s: %w", p.Name, err)
		}
	}
	return nil
}

func (d *roleDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	return d.deleteRole(ctx, record.Attributes[stack.AttrName])
}

func (d *roleDriver) deleteRole(ctx context.Context, roleName string) error {
	attached, err := d.client.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil {
		if hasErrorCode(err, "NoSuchEntity") {
			return nil
		}
		return fmt.Errorf("failed to list attached policies: %w", err)
	}
	for _, p := range attached.AttachedPolicies {
		_, err := d.client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(roleName),
			PolicyArn: p.PolicyArn,
		})
		if err != nil && !hasErrorCode(err, "NoSuchEntity") {
			return fmt.Errorf("failed to detach %s: %w", aws.ToString(p.PolicyArn), err)
		}
	}

	inline, err := d.client.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(roleName)})
	if err != nil && !hasErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to list inline policies: %w", err)
	}
	if inline != nil {
		for _, name := range inline.PolicyNames {
			_, err := d.client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
				RoleName:   aws.String(roleName),
				PolicyName: aws.String(name),
			})
			if err != nil && !hasErrorCode(err, "NoSuchEntity") {
				return fmt.Errorf("failed to delete policy %s: %w", name, err)
			}
		}
	}

	if _, err := d.client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(roleName)}); err != nil && !hasErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

func inlinePolicyDocument(p stack.InlinePolicy, resolver stack.Resolver) (string, error) {
	doc := policyDocument{Version: "2012-10-17"}
	for _, st := range p.Statements {
		resources := make([]string, 0, len(st.Resources))
		for _, v := range st.Resources {
			r, err := resolver.Resolve(v)
			if err != nil {
				return "", err
			}
			resources = append(resources, r)
		}
		effect := st.Effect
		if effect == "" {
			effect = "Allow"
		}
		doc.Statement = append(doc.Statement, policyStatement{
			Effect:   effect,
			Action:   st.Actions,
			Resource: resources,
		})
	}
	return doc.String(), nil
}
