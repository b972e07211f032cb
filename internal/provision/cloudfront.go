package provision

import (
	"context"
	"fmt"
	"time"

	"ivs-moderation/internal/stack"
	"ivs-moderation/internal/state"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CloudFrontAPI interface {
	CreateOriginAccessControl(ctx context.Context, params *cloudfront.CreateOriginAccessControlInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateOriginAccessControlOutput, error)
	GetOriginAccessControl(ctx context.Context, params *cloudfront.GetOriginAccessControlInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetOriginAccessControlOutput, error)
	DeleteOriginAccessControl(ctx context.Context, params *cloudfront.DeleteOriginAccessControlInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteOriginAccessControlOutput, error)
	CreateDistribution(ctx context.Context, params *cloudfront.CreateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateDistributionOutput, error)
	GetDistribution(ctx context.Context, params *cloudfront.GetDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionOutput, error)
	GetDistributionConfig(ctx context.Context, params *cloudfront.GetDistributionConfigInput, optFns ...func(*cloudfront.Options)) (*cloudfront.GetDistributionConfigOutput, error)
	UpdateDistribution(ctx context.Context, params *cloudfront.UpdateDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.UpdateDistributionOutput, error)
	DeleteDistribution(ctx context.Context, params *cloudfront.DeleteDistributionInput, optFns ...func(*cloudfront.Options)) (*cloudfront.DeleteDistributionOutput, error)
}

const originID = "site-bucket"

type distributionDriver struct {
	client       CloudFrontAPI
	s3           S3API
	logger       *zap.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func (d *distributionDriver) Create(ctx context.Context, res stack.Resource, resolver stack.Resolver) (map[string]string, error) {
	spec := res.Spec.(*stack.DistributionSpec)

	bucket, err := resolver.Resolve(spec.Bucket)
	if err != nil {
		return nil, err
	}
	originDomain, err := resolver.Resolve(spec.OriginDomain)
	if err != nil {
		return nil, err
	}

	oacName := bucket
	if len(oacName) > 64 {
		oacName = oacName[:64]
	}
	oac, err := d.client.CreateOriginAccessControl(ctx, &cloudfront.CreateOriginAccessControlInput{
		OriginAccessControlConfig: &cftypes.OriginAccessControlConfig{
			Name:                          aws.String(oacName),
			Description:                   aws.String(spec.Comment),
			OriginAccessControlOriginType: cftypes.OriginAccessControlOriginTypesS3,
			SigningBehavior:               cftypes.OriginAccessControlSigningBehaviorsAlways,
			SigningProtocol:               cftypes.OriginAccessControlSigningProtocolsSigv4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create origin access control: %w", err)
	}
	oacID := aws.ToString(oac.OriginAccessControl.Id)
	attrs := map[string]string{
		stack.AttrAccessControl: oacID,
		attrBucket:              bucket,
	}

	out, err := d.client.CreateDistribution(ctx, &cloudfront.CreateDistributionInput{
		DistributionConfig: distributionConfig(spec, originDomain, oacID),
	})
	if err != nil {
		if delErr := d.deleteAccessControl(ctx, oacID); delErr != nil {
			d.logger.Error("Failed to clean up origin access control", zap.Error(delErr), zap.String("id", oacID))
		}
		return nil, fmt.Errorf("failed to create distribution: %w", err)
	}
	attrs[stack.AttrID] = aws.ToString(out.Distribution.Id)
	attrs[stack.AttrArn] = aws.ToString(out.Distribution.ARN)
	attrs[stack.AttrDomainName] = aws.ToString(out.Distribution.DomainName)

	_, err = d.s3.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(cloudFrontReadPolicy(bucket, attrs[stack.AttrArn])),
	})
	if err != nil {
		if delErr := d.Delete(ctx, state.ResourceRecord{Name: res.Name, Attributes: attrs}); delErr != nil {
			d.logger.Error("Failed to clean up distribution", zap.Error(delErr), zap.String("id", attrs[stack.AttrID]))
		}
		return nil, fmt.Errorf("failed to grant distribution access to bucket: %w", err)
	}

	return attrs, nil
}

func distributionConfig(spec *stack.DistributionSpec, originDomain, oacID string) *cftypes.DistributionConfig {
	methods := make([]cftypes.Method, 0, len(spec.AllowedMethods))
	for _, m := range spec.AllowedMethods {
		methods = append(methods, cftypes.Method(m))
	}

	cfg := &cftypes.DistributionConfig{
		CallerReference:   aws.String(uuid.NewString()),
		Comment:           aws.String(spec.Comment),
		Enabled:           aws.Bool(true),
		DefaultRootObject: aws.String(spec.DefaultRootObject),
		Origins: &cftypes.Origins{
			Quantity: aws.Int32(1),
			Items: []cftypes.Origin{{
				Id:                    aws.String(originID),
				DomainName:            aws.String(originDomain),
				OriginAccessControlId: aws.String(oacID),
				S3OriginConfig:        &cftypes.S3OriginConfig{OriginAccessIdentity: aws.String("")},
			}},
		},
		DefaultCacheBehavior: &cftypes.DefaultCacheBehavior{
			TargetOriginId:       aws.String(originID),
			ViewerProtocolPolicy: cftypes.ViewerProtocolPolicy(spec.ViewerProtocolPolicy),
			CachePolicyId:        aws.String(spec.CachePolicyID),
			Compress:             aws.Bool(true),
			AllowedMethods: &cftypes.AllowedMethods{
				Quantity: aws.Int32(int32(len(methods))),
				Items:    methods,
				CachedMethods: &cftypes.CachedMethods{
					Quantity: aws.Int32(int32(len(methods))),
					Items:    methods,
				},
			},
		},
		ViewerCertificate: &cftypes.ViewerCertificate{
			CloudFrontDefaultCertificate: aws.Bool(true),
		},
	}
	if spec.PriceClass != "" {
		cfg.PriceClass = cftypes.PriceClass(spec.PriceClass)
	}
	return cfg
}

// Delete disables the distribution, waits for the change to deploy, and then deletes
// it together with its bucket policy and origin access control.
func (d *distributionDriver) Delete(ctx context.Context, record state.ResourceRecord) error {
	id := record.Attributes[stack.AttrID]
	if id != "" {
		if err := d.deleteDistribution(ctx, id); err != nil {
			return err
		}
	}

	if bucket := record.Attributes[attrBucket]; bucket != "" {
		_, err := d.s3.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(bucket)})
		if err != nil && !hasErrorCode(err, "NoSuchBucket") {
			return fmt.Errorf("failed to delete bucket policy: %w", err)
		}
	}

	return d.deleteAccessControl(ctx, record.Attributes[stack.AttrAccessControl])
}

func (d *distributionDriver) deleteDistribution(ctx context.Context, id string) error {
	current, err := d.client.GetDistributionConfig(ctx, &cloudfront.GetDistributionConfigInput{Id: aws.String(id)})
	if err != nil {
		if hasErrorCode(err, "NoSuchDistribution") {
			return nil
		}
		return fmt.Errorf("failed to get distribution config: %w", err)
	}

	if aws.ToBool(current.DistributionConfig.Enabled) {
		current.DistributionConfig.Enabled = aws.Bool(false)
		_, err := d.client.UpdateDistribution(ctx, &cloudfront.UpdateDistributionInput{
			Id:                 aws.String(id),
			IfMatch:            current.ETag,
			DistributionConfig: current.DistributionConfig,
		})
		if err != nil {
			return fmt.Errorf("failed to disable distribution: %w", err)
		}
		d.logger.Info("Disabled distribution, waiting for deployment", zap.String("id", id))
	}

	var etag *string
	err = poll(ctx, d.pollInterval, d.pollTimeout, func(ctx context.Context) (bool, error) {
		got, err := d.client.GetDistribution(ctx, &cloudfront.GetDistributionInput{Id: aws.String(id)})
		if err != nil {
			return false, fmt.Errorf("failed to get distribution: %w", err)
		}
		etag = got.ETag
		return aws.ToString(got.Distribution.Status) == "Deployed", nil
	})
	if err != nil {
		return err
	}

	_, err = d.client.DeleteDistribution(ctx, &cloudfront.DeleteDistributionInput{Id: aws.String(id), IfMatch: etag})
	if err != nil && !hasErrorCode(err, "NoSuchDistribution") {
		return fmt.Errorf("failed to delete distribution: %w", err)
	}
	return nil
}

func (d *distributionDriver) deleteAccessControl(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	got, err := d.client.GetOriginAccessControl(ctx, &cloudfront.GetOriginAccessControlInput{Id: aws.String(id)})
	if err != nil {
		if hasErrorCode(err, "NoSuchOriginAccessControl") {
			return nil
		}
		return fmt.Errorf("failed to get origin access control: %w", err)
	}
	_, err = d.client.DeleteOriginAccessControl(ctx, &cloudfront.DeleteOriginAccessControlInput{Id: aws.String(id), IfMatch: got.ETag})
	if err != nil && !hasErrorCode(err, "NoSuchOriginAccessControl") {
		return fmt.Errorf("failed to delete origin access control: %w", err)
	}
	return nil
}
